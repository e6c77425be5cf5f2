package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"taskboard-auth/backend/internal/apperr"
	sessiondomain "taskboard-auth/backend/internal/session/domain"
	sessionservice "taskboard-auth/backend/internal/session/service"
)

func newSessionsCmd(open Opener) *cobra.Command {
	var userRef string
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "List, revoke and limit a user's sessions",
	}
	sessionsCmd.PersistentFlags().StringVarP(&userRef, "user", "u", "", "user ID or email")

	var asJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the user's sessions, most recently active first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, open, func(ctx context.Context, env *Env) error {
				u, err := resolveUser(ctx, env.Users, userRef)
				if err != nil {
					return err
				}
				views, err := env.Sessions.List(ctx, u.ID, "")
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(views)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d of %d sessions\n", u.Email, len(views), u.MaxSessions)
				return printSessions(cmd.OutOrStdout(), views)
			})
		},
	}
	listCmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	revokeCmd := &cobra.Command{
		Use:   "revoke <session-id>",
		Short: "Revoke one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, open, func(ctx context.Context, env *Env) error {
				u, err := resolveUser(ctx, env.Users, userRef)
				if err != nil {
					return err
				}
				s, err := env.Sessions.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if s.UserID != u.ID {
					return apperr.New(apperr.Forbidden, "session "+s.ID+" does not belong to "+u.Email)
				}
				if err := env.Sessions.Revoke(ctx, u.ID, s.ID, sessionservice.ReasonAdmin); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", s.ID)
				return nil
			})
		},
	}

	var keep string
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Revoke every session of the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, open, func(ctx context.Context, env *Env) error {
				u, err := resolveUser(ctx, env.Users, userRef)
				if err != nil {
					return err
				}
				revoked, err := env.Sessions.Clear(ctx, u.ID, keep, sessionservice.ReasonAdmin)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %d sessions\n", len(revoked))
				return nil
			})
		},
	}
	clearCmd.Flags().StringVar(&keep, "keep", "", "session ID to keep")

	setMaxCmd := &cobra.Command{
		Use:   "set-max <n>",
		Short: "Change the user's session limit, evicting the least recently active sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var n int
			if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil {
				return fmt.Errorf("invalid session limit %q", args[0])
			}
			return withEnv(cmd, open, func(ctx context.Context, env *Env) error {
				u, err := resolveUser(ctx, env.Users, userRef)
				if err != nil {
					return err
				}
				views, err := env.Sessions.SetMaxSessions(ctx, u.ID, n, "")
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: limit %d, %d sessions remain\n", u.Email, n, len(views))
				return nil
			})
		},
	}

	sessionsCmd.AddCommand(listCmd, revokeCmd, clearCmd, setMaxCmd)
	return sessionsCmd
}

func printSessions(w io.Writer, views []sessiondomain.View) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tBROWSER\tOS\t2FA\tLAST LOGIN\tLAST ACTIVE")
	for _, v := range views {
		browser, os := "-", "-"
		if v.Device != nil {
			browser, os = v.Device.Browser, v.Device.OS
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n", v.ID, browser, os, v.TwoFactorVerified,
			v.LastLogin.UTC().Format(time.RFC3339), v.LastActive.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}
