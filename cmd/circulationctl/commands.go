package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"libraryapi/internal/member"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newRootCmd(open opener, stdin io.Reader) *cobra.Command {
	root := &cobra.Command{
		Use:          "circulationctl",
		Short:        "Administer library circulation",
		SilenceUsage: true,
	}
	root.AddCommand(
		newReconcileCmd(open),
		newOverdueCmd(open),
		newSummaryCmd(open),
		newCreateAdminCmd(open, stdin),
	)
	return root
}

// withServices opens the backend for the duration of one command.
func withServices(cmd *cobra.Command, open opener, fn func(ctx context.Context, svc *services) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, closeFn, err := open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, svc)
}

func newReconcileCmd(open opener) *cobra.Command {
	var repair bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare cached copy counts and member balances with the issue records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withServices(cmd, open, func(ctx context.Context, svc *services) error {
				drifts, err := svc.circ.Reconcile(ctx, repair)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(drifts) == 0 {
					fmt.Fprintln(out, "no drift found")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ENTITY\tID\tFIELD\tCACHED\tACTUAL")
				for _, d := range drifts {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Entity, d.ID, d.Field, d.Cached, d.Actual)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				if repair {
					fmt.Fprintf(out, "repaired %d field(s)\n", len(drifts))
				} else {
					fmt.Fprintf(out, "%d field(s) drifted; rerun with --repair to fix\n", len(drifts))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "rewrite drifted values")
	return cmd
}

func newOverdueCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "overdue",
		Short: "List active loans past their due date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withServices(cmd, open, func(ctx context.Context, svc *services) error {
				late, err := svc.circ.LateIssues(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ISSUE\tMEMBER\tBOOK\tDUE\tDAYS OVERDUE")
				for _, d := range late {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
						d.ID, d.MemberEmail, d.BookTitle, d.ExpectedReturnDate.Format("2006-01-02"), d.DaysOverdue)
				}
				return tw.Flush()
			})
		},
	}
}

func newSummaryCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Print the dashboard counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withServices(cmd, open, func(ctx context.Context, svc *services) error {
				sum, err := svc.reports.Summary(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "students\t%d\n", sum.Students)
				fmt.Fprintf(tw, "admins\t%d\n", sum.Admins)
				fmt.Fprintf(tw, "books\t%d\n", sum.Books)
				fmt.Fprintf(tw, "active issues\t%d\n", sum.ActiveIssues)
				fmt.Fprintf(tw, "overdue issues\t%d\n", sum.OverdueIssues)
				return tw.Flush()
			})
		},
	}
}

func newCreateAdminCmd(open opener, stdin io.Reader) *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd.ErrOrStderr(), stdin, "Password: ")
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			return withServices(cmd, open, func(ctx context.Context, svc *services) error {
				m, err := svc.members.Register(ctx, member.Registration{
					Name:     name,
					Email:    email,
					Password: password,
					Role:     member.RoleAdmin,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (%s)\n", m.Email, m.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "login email")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// readPassword prompts without echo on a terminal and otherwise reads one
// line, so the command also works with a piped password.
func readPassword(prompt io.Writer, in io.Reader, label string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, label)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
