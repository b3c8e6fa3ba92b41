package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ceyewan/modlink/identity"
	"github.com/ceyewan/modlink/xerrors"
)

func newLoginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session in the identity store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFromFlags(cmd)
			if err != nil {
				return err
			}
			defer a.close(context.Background())
			return runLogin(cmd.Context(), a, email, password, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func runLogin(ctx context.Context, a *app, email, password string, out io.Writer) error {
	if email == "" || password == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "email and password are required")
	}
	sess, err := a.login(ctx, email, password)
	if err != nil {
		return err
	}
	// 令牌不回显
	return json.NewEncoder(out).Encode(struct {
		User      identity.User `json:"user"`
		ExpiresAt string        `json:"expiresAt,omitempty"`
	}{
		User:      sess.User,
		ExpiresAt: formatExpiry(sess),
	})
}

func formatExpiry(s *identity.Session) string {
	if s.ExpiresAt.IsZero() {
		return ""
	}
	return s.ExpiresAt.UTC().Format(time.RFC3339)
}
