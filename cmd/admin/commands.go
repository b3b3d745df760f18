package main

import (
	"fmt"
	"sanctuary/backend/internal/models"
	"sanctuary/backend/internal/storage"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newApproveCmd(open opener, adminID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <counselor-id>",
		Short: "Approve a counselor and lift any suspension",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(open, func(a *app) error {
				c, err := a.counselors.ApproveCounselor(cmd.Context(), *adminID, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Counselor %s approved (availability: %s)\n", c.ID, c.Availability)
				return nil
			})
		},
	}
}

func newRemoveCmd(open opener, adminID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <counselor-id>",
		Short: "Revoke a counselor and end their sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(open, func(a *app) error {
				n, err := a.counselors.RemoveCounselor(cmd.Context(), *adminID, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Counselor %s removed, %d session(s) ended\n", args[0], n)
				return nil
			})
		},
	}
}

func newReportsCmd(open opener) *cobra.Command {
	var (
		pending bool
		page    int
	)
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List reports, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(open, func(a *app) error {
				filter := storage.ReportFilter{Page: page}
				if pending {
					processed := false
					filter.Processed = &processed
				}
				result, err := a.complaints.ListReports(cmd.Context(), filter)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tCOUNSELOR\tPROCESSED\tREASON")
				for _, r := range result.Items {
					fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", r.ID, r.CounselorID, r.Processed, oneLine(r.Reason))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "only unprocessed reports")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	return cmd
}

func newProcessReportCmd(open opener, adminID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "process-report <report-id> <strike|dismiss>",
		Short: "Decide on a report",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(open, func(a *app) error {
				r, err := a.complaints.ProcessReport(cmd.Context(), args[0], *adminID, args[1])
				if err != nil {
					return err
				}
				action := ""
				if r.Action != nil {
					action = string(*r.Action)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Report %s processed: %s\n", r.ID, action)
				return nil
			})
		},
	}
}

func newResolveAppealCmd(open opener, adminID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve-appeal <appeal-id> <approve|revoke_suspension>",
		Short: "Decide on a counselor's appeal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(open, func(a *app) error {
				ap, err := a.complaints.ResolveAppeal(cmd.Context(), args[0], *adminID, args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Appeal %s resolved: %s\n", ap.ID, args[1])
				return nil
			})
		},
	}
}

func newAuditCmd(open opener) *cobra.Command {
	var (
		action string
		target string
		page   int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the administrative audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(open, func(a *app) error {
				result, err := a.audit.List(cmd.Context(), storage.AuditFilter{
					Action:   models.AuditAction(action),
					TargetID: target,
					Page:     page,
				})
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tADMIN\tACTION\tTARGET\tDETAILS")
				for _, e := range result.Items {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						e.Timestamp.Format("2006-01-02 15:04:05"), e.AdminID, e.Action, deref(e.TargetID), oneLine(deref(e.Details)))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "filter by action")
	cmd.Flags().StringVar(&target, "target", "", "filter by target id")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	return cmd
}

func newTokenCmd(open opener) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "token <subject-id>",
		Short: "Issue a signed API token",
		Long:  "Issues a JWT for an administrator or a counselor console. The subject is the admin id or the counselor id.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(open, func(a *app) error {
				tok, exp, err := a.tokens.GenerateToken(args[0], role)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), tok)
				fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.UTC().Format("2006-01-02 15:04:05 MST"))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "admin", "token role: admin or counselor")
	return cmd
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 60 {
		return s[:57] + "..."
	}
	return s
}
