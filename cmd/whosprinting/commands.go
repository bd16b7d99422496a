package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"whosprinting-backend/internal/session"
)

func statusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show who is printing and who can print",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess := a.newSession(nil)
			if err := sess.Attach(cmd.Context()); err != nil {
				return err
			}
			printView(cmd.OutOrStdout(), sess.View())
			return nil
		},
	}
}

func historyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List finished prints, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := a.client.History(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "OPERATOR\tOUTCOME\tSTARTED\tDURATION")
			for _, e := range entries {
				name := e.DisplayName
				if e.PrintInPrivate {
					name = session.PrivateLabel
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					name, e.Outcome,
					e.PeriodStart.Local().Format(time.DateTime),
					e.PeriodEnd.Sub(e.PeriodStart).Round(time.Second))
			}
			return w.Flush()
		},
	}
}

func startCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "start <username>",
		Short: "Attribute the printer to an operator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess := a.newSession(nil)
			if err := sess.Attach(cmd.Context()); err != nil {
				return err
			}
			if err := sess.Directory.Select(args[0]); err != nil {
				return err
			}
			if err := sess.Start(cmd.Context()); err != nil {
				return err
			}
			if err := sess.Tracker.Refresh(cmd.Context()); err != nil {
				return err
			}
			printView(cmd.OutOrStdout(), sess.View())
			return nil
		},
	}
}

// endCmd builds the finish and fail commands.
func endCmd(a *app, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess := a.newSession(nil)
			if err := sess.Tracker.Refresh(cmd.Context()); err != nil {
				return err
			}
			var err error
			if use == "fail" {
				err = sess.Failed(cmd.Context())
			} else {
				err = sess.Finished(cmd.Context())
			}
			if err != nil {
				return err
			}
			if err := sess.Tracker.Refresh(cmd.Context()); err != nil {
				return err
			}
			printView(cmd.OutOrStdout(), sess.View())
			return nil
		},
	}
}

func fakeTagCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fake-tag",
		Short: "Ask the server to emit a made-up tag scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.newSession(nil).FakeTag(cmd.Context())
		},
	}
}

func scanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <tag-id>",
		Short: "Report a tag read, as the reader would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.client.ScanTag(cmd.Context(), args[0])
		},
	}
}

func printView(out io.Writer, v session.View) {
	fmt.Fprintln(out, v.StatusMessage)
	if v.UnknownTagSeen {
		fmt.Fprintln(out, "An unregistered tag was scanned. Register it with: whosprinting register --capture")
	}
	if len(v.History) > 0 {
		names := make([]string, 0, len(v.History))
		for _, h := range v.History {
			names = append(names, h.PublicLabel())
		}
		fmt.Fprintf(out, "Recently: %s\n", strings.Join(names, ", "))
	}
	if len(v.Operators) == 0 {
		return
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nUSERNAME\tNAME\tCONTACT")
	for _, op := range v.Operators {
		fmt.Fprintf(w, "%s\t%s\t%s\n", op.Username, op.PublicLabel(), contact(op))
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}

func contact(op session.OperatorSummary) string {
	if op.PrintInPrivate {
		return "(private)"
	}
	var parts []string
	for _, s := range []string{op.EmailAddress, op.PhoneNumber, op.TwitterHandle, op.MastodonHandle} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
