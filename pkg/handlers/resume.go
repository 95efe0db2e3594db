package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/swecc-uw/swecc-sockets/pkg/protocol"
	"github.com/swecc-uw/swecc-sockets/pkg/registry"
)

// ResumeHandler delivers asynchronous resume-review notifications. Clients
// issue no commands on this service; frames arrive via the message broker
// and are routed to the live connection of the reviewed user. Delivery is
// at most once: an absent or closing connection means the notification is
// dropped with a warning.
type ResumeHandler struct {
	base
}

func NewResumeHandler(reg *registry.Registry) *ResumeHandler {
	return &ResumeHandler{base: newBase("Resume", reg)}
}

// ReviewedResume is the broker payload for a completed review.
type ReviewedResume struct {
	Feedback string `json:"feedback"`
	Key      string `json:"key"`
}

// ParseReviewKey splits "<user_id>-<resume_id>-<file_name>" on the first two
// dashes; the file name may itself contain dashes. The first two components
// must parse as integers.
func ParseReviewKey(key string) (userID uint64, resumeID, fileName string, err error) {
	first := strings.Index(key, "-")
	if first < 0 {
		return 0, "", "", fmt.Errorf("review key %q: missing user id separator", key)
	}
	rest := key[first+1:]
	second := strings.Index(rest, "-")
	if second < 0 {
		return 0, "", "", fmt.Errorf("review key %q: missing resume id separator", key)
	}

	userPart := key[:first]
	resumeID = rest[:second]
	fileName = rest[second+1:]

	userID, err = strconv.ParseUint(userPart, 10, 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("review key %q: user id not an integer: %w", key, err)
	}
	if _, err := strconv.ParseUint(resumeID, 10, 64); err != nil {
		return 0, "", "", fmt.Errorf("review key %q: resume id not an integer: %w", key, err)
	}
	return userID, resumeID, fileName, nil
}

// HandleReviewed is the broker consumer callback: it locates the reviewed
// user's resume connection and sends the notification frame.
func (h *ResumeHandler) HandleReviewed(ctx context.Context, msg ReviewedResume) {
	userID, resumeID, fileName, err := ParseReviewKey(msg.Key)
	if err != nil {
		h.logger.Errorf("dropping reviewed-resume message: %v", err)
		return
	}

	conn := h.reg.Lookup(registry.KindResume, userID)
	if conn == nil {
		h.logger.Warnf("no active connection for user %d, dropping review notification", userID)
		return
	}

	h.safeSend(conn, protocol.Frame{
		Type:    protocol.TypeResumeReviewed,
		UserID:  userID,
		Message: fmt.Sprintf("Resume reviewed for user %d with feedback: %s", userID, msg.Feedback),
		Data: map[string]any{
			"resume_id": resumeID,
			"file_name": fileName,
			"feedback":  msg.Feedback,
		},
	})
	h.logger.Infof("sent reviewed resume notification to user %d", userID)
}
