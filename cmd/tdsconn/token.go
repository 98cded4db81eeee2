package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/tdsconn/internal/api"
)

func newTokenCmd(a *app) *cobra.Command {
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the diagnostics API",
		Long: `Sign an access token with security.jwt.secret. The token is printed to
stdout, for use as "Authorization: Bearer <token>".

Examples:
  tdsconn token --subject ops --ttl 1h`,
		RunE: func(_ *cobra.Command, _ []string) error {
			secret := a.cfg.Security.JWT.Secret
			if secret == "" {
				return errors.New("security.jwt.secret is not set; the API runs unauthenticated")
			}
			if ttl == 0 {
				ttl = time.Duration(a.cfg.Security.JWT.AccessTokenTTL) * time.Minute
			}
			token, err := api.IssueToken(secret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default security.jwt.access_token_ttl)")
	return cmd
}
