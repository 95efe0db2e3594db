package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v3"

	"github.com/swecc-uw/swecc-sockets/pkg/auth"
	"github.com/swecc-uw/swecc-sockets/pkg/config"
)

var (
	tokenTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")).
			Padding(0, 1)

	tokenLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))

	tokenValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	tokenBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1).
			Margin(1, 0)

	tokenHintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

// TokenCommand creates the token command, which mints development tokens
// for connecting to the gateway by hand.
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Mint a signed development token",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:  "user-id",
				Usage: "User ID claim",
				Value: 1,
			},
			&cli.StringFlag{
				Name:  "username",
				Usage: "Username claim",
				Value: "dev",
			},
			&cli.StringSliceFlag{
				Name:  "group",
				Usage: "Group claim, repeatable (e.g. is_admin)",
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Token lifetime",
				Value: 24 * time.Hour,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return mintToken(c)
		},
	}
}

func mintToken(c *cli.Command) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	userID := c.Uint("user-id")
	username := c.String("username")
	groups := c.StringSlice("group")
	ttl := c.Duration("ttl")

	token, err := auth.Sign([]byte(cfg.JWTSecret), uint64(userID), username, groups, ttl)
	if err != nil {
		return fmt.Errorf("signing token: %w", err)
	}

	fmt.Println(tokenTitleStyle.Render("Development token"))

	details := fmt.Sprintf("%s %s\n%s %d\n%s %v\n%s %s",
		tokenLabelStyle.Render("Username:"), tokenValueStyle.Render(username),
		tokenLabelStyle.Render("User ID: "), userID,
		tokenLabelStyle.Render("Groups:  "), groups,
		tokenLabelStyle.Render("Expires: "), tokenValueStyle.Render(time.Now().Add(ttl).Format(time.RFC3339)))
	fmt.Println(tokenBoxStyle.Render(details))

	fmt.Println(tokenValueStyle.Render(token))
	fmt.Println(tokenHintStyle.Render(fmt.Sprintf("\nConnect with: ws://localhost:%d/ws/echo/<token>", cfg.Port)))
	return nil
}
