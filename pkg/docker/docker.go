package docker

// Package docker wraps the container runtime behind a small streaming
// interface so the log handler can be tested without a daemon. The real
// implementation talks to the local Docker engine and demultiplexes the
// stdout/stderr log stream for non-TTY containers.

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// ErrContainerNotFound marks a stream request for a container the runtime
// does not know about.
var ErrContainerNotFound = errors.New("container not found")

// LogStreamer yields a follow-mode log stream for a named container.
// Cancelling ctx or closing the returned reader releases the stream.
type LogStreamer interface {
	StreamLogs(ctx context.Context, containerName string) (io.ReadCloser, error)
}

// Client is the Docker-backed LogStreamer.
type Client struct {
	api *client.Client
}

// NewClient builds a client from the environment (DOCKER_HOST etc.) with API
// version negotiation.
func NewClient() (*Client, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Client{api: api}, nil
}

// StreamLogs opens the container's log stream with follow and timestamps,
// tailing the last 100 lines. Non-TTY streams are demultiplexed so callers
// read plain log bytes.
func (c *Client) StreamLogs(ctx context.Context, containerName string) (io.ReadCloser, error) {
	inspect, err := c.api.ContainerInspect(ctx, containerName)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, containerName)
		}
		return nil, fmt.Errorf("inspecting container %s: %w", containerName, err)
	}

	raw, err := c.api.ContainerLogs(ctx, containerName, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Timestamps: true,
		Tail:       "100",
	})
	if err != nil {
		return nil, fmt.Errorf("opening log stream for %s: %w", containerName, err)
	}

	if inspect.Config != nil && inspect.Config.Tty {
		return raw, nil
	}
	return demux(raw), nil
}

// demux strips the multiplexed stream framing, merging stdout and stderr.
func demux(raw io.ReadCloser) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, raw)
		pw.CloseWithError(err)
	}()
	return &demuxStream{pr: pr, raw: raw}
}

type demuxStream struct {
	pr  *io.PipeReader
	raw io.ReadCloser
}

func (d *demuxStream) Read(p []byte) (int, error) {
	return d.pr.Read(p)
}

func (d *demuxStream) Close() error {
	// closing the raw stream unblocks the copier, which then closes the pipe
	err := d.raw.Close()
	_ = d.pr.Close()
	return err
}
