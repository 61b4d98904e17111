package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/site-template-ci/internal/auth"
	"github.com/JakeFAU/site-template-ci/internal/config"
)

func newTokenCmd(cfgFile *string) *cobra.Command {
	var (
		userID int64
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a CI pipeline (jwt auth mode).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Auth.Mode != auth.ModeJWT {
				return fmt.Errorf("auth.mode is %q, tokens are only accepted in %q mode", cfg.Auth.Mode, auth.ModeJWT)
			}
			token, err := auth.IssueToken([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, userID, ttl, time.Now())
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().Int64Var(&userID, "user-id", 0, "user id placed in the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}
