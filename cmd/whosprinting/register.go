package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"whosprinting-backend/internal/session"
)

var errCaptureTimedOut = errors.New("no tag scanned before the capture timed out")

func registerCmd(a *app) *cobra.Command {
	var (
		draft   session.Draft
		capture bool
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new operator",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if draft.ConfirmPassword == "" {
				draft.ConfirmPassword = draft.Password
			}

			changed := make(chan struct{}, 1)
			sess := a.newSession(func(session.View) {
				select {
				case changed <- struct{}{}:
				default:
				}
			})
			sess.Registration.Open()
			sess.Registration.Update(func(d *session.Draft) { *d = draft })
			if err := sess.Registration.Draft().Validate(); err != nil {
				return err
			}

			if capture {
				tagID, err := captureTag(ctx, a, sess, changed)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Captured tag %s\n", tagID)
			}

			if err := sess.Registration.Submit(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s\n", draft.Username)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&draft.Username, "username", "", "Login name (required)")
	f.StringVar(&draft.Password, "password", "", "Password (required)")
	f.StringVar(&draft.ConfirmPassword, "confirm-password", "", "Password again; defaults to --password")
	f.StringVar(&draft.KeyfobID, "keyfob", "", "Tag id to link to the operator")
	f.StringVar(&draft.DisplayName, "display-name", "", "Name shown to others")
	f.StringVar(&draft.EmailAddress, "email", "", "Email address")
	f.StringVar(&draft.PhoneNumber, "phone", "", "Phone number")
	f.StringVar(&draft.TwitterHandle, "twitter", "", "Twitter handle")
	f.StringVar(&draft.MastodonHandle, "mastodon", "", "Mastodon handle")
	f.BoolVar(&draft.PrintInPrivate, "private", false, "Hide name and contacts while printing")
	f.BoolVar(&capture, "capture", false, "Wait for the next tag scan and link it")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	cmd.MarkFlagsMutuallyExclusive("keyfob", "capture")
	return cmd
}

// captureTag follows the event stream until the capture session takes a tag
// or times out. changed is signalled on every session change.
func captureTag(ctx context.Context, a *app, sess *session.Session, changed <-chan struct{}) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	connected := make(chan struct{})
	var first bool
	live := make(chan error, 1)
	go func() {
		live <- runLive(ctx, a, sess, func() {
			if !first {
				first = true
				close(connected)
			}
		})
	}()

	// Scans made before the stream is up would be missed.
	select {
	case <-connected:
	case err := <-live:
		return "", err
	}

	sess.Capture.BeginCapture()
	fmt.Println(sess.Capture.Label())

	for sess.Capture.Waiting() {
		select {
		case <-changed:
		case err := <-live:
			return "", err
		}
	}

	tagID := sess.Capture.Captured()
	if tagID == "" {
		return "", errCaptureTimedOut
	}
	return tagID, nil
}
