package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	httpMW "github.com/yungbote/persona-council/internal/http/middleware"
)

// newTokenCommand signs a bearer token with the configured secret, for local
// testing against a running server.
func newTokenCommand(opts *rootOptions) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a development bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.HTTP.JWTSecret == "" {
				return errors.New("http.jwt_secret is not set")
			}
			tok, err := httpMW.IssueToken(cfg.HTTP.JWTSecret, args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
