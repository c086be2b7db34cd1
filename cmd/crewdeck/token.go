package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/crewdeck/crewdeck/internal/auth"
	"github.com/crewdeck/crewdeck/internal/config"
)

func newTokenCmd() *cobra.Command {
	var (
		configPath string
		userID     uint
		ttl        time.Duration
		secret     string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token",
		Long: `Signs a JWT naming a user id, for exercising the gateway without the
main application issuing credentials. The signing secret comes from --secret,
the config file, or an interactive prompt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, configPath, userID, ttl, secret)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "crewdeck.yaml", "path to Crewdeck config file")
	cmd.Flags().UintVarP(&userID, "user", "u", 0, "user id to name in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (overrides config)")
	return cmd
}

func runToken(cmd *cobra.Command, configPath string, userID uint, ttl time.Duration, secret string) error {
	if userID == 0 {
		return fmt.Errorf("--user is required")
	}

	if secret == "" {
		if cfg, err := config.Load(configPath); err == nil {
			secret = cfg.Auth.Secret
		}
	}
	if secret == "" {
		s, err := promptSecret(cmd)
		if err != nil {
			return err
		}
		secret = s
	}
	if secret == "" {
		return fmt.Errorf("no signing secret: pass --secret or configure auth.secret")
	}

	token, err := auth.SignDevToken(secret, userID, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

// promptSecret reads the secret without echo when stdin is a terminal.
func promptSecret(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Signing secret: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return string(raw), nil
}
