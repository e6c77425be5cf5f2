package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newAuditCmd(open Opener) *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the security audit trail",
	}

	var (
		userRef string
		limit   int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the user's most recent audit events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			return withEnv(cmd, open, func(ctx context.Context, env *Env) error {
				if env.Audit == nil {
					return fmt.Errorf("audit log is not available")
				}
				u, err := resolveUser(ctx, env.Users, userRef)
				if err != nil {
					return err
				}
				logs, err := env.Audit.ListByUser(ctx, u.ID, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tACTION\tRESOURCE\tSESSION\tIP\tMETADATA")
				for _, l := range logs {
					session := l.SessionID
					if session == "" {
						session = "-"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", l.CreatedAt.UTC().Format(time.RFC3339),
						l.Action, l.Resource, session, l.IP, l.Metadata)
				}
				return tw.Flush()
			})
		},
	}
	listCmd.Flags().StringVarP(&userRef, "user", "u", "", "user ID or email")
	listCmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events")

	auditCmd.AddCommand(listCmd)
	return auditCmd
}
