package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"callsignal-backend/pkg/env"
	"callsignal-backend/pkg/jwt"
)

// newTokenCommand mints an access token for local testing with the shared secret
func newTokenCommand() *cobra.Command {
	var (
		secret   string
		audience string
		username string
		expiry   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint an access token signed with the service secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			if secret == "" {
				return fmt.Errorf("a signing secret is required (--secret or JWT_SECRET)")
			}

			token, err := jwt.NewJWTManager(secret, audience, expiry).GenerateAccessToken(userID, username)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", env.GetStringFromFile("JWT_SECRET", ""), "HMAC signing secret")
	cmd.Flags().StringVar(&audience, "audience", env.GetString("JWT_AUDIENCE", "callsignal-api"), "token audience")
	cmd.Flags().StringVar(&username, "username", "", "username claim")
	cmd.Flags().DurationVar(&expiry, "expiry", time.Hour, "token lifetime")
	return cmd
}
