package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/noah-isme/batch-enrollment/internal/models"
	"github.com/noah-isme/batch-enrollment/internal/portal"
	"github.com/noah-isme/batch-enrollment/internal/workflow"
	"github.com/noah-isme/batch-enrollment/pkg/config"
	appErrors "github.com/noah-isme/batch-enrollment/pkg/errors"
	"github.com/noah-isme/batch-enrollment/pkg/logger"
)

const usage = `usage: enrollctl [global flags] <command> [flags]

commands:
  status                             show the synced enrollment record
  select-mode --mode PAID|UNPAID --accept-terms
  pay-registration --txn ID
  book-slot --date YYYY-MM-DD --time HH:MM
  pay-course --txn ID
  countdown                          follow the test-slot countdown until ready
  receipt                            print the receipt of a confirmed seat
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "enrollctl:", describe(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	global := pflag.NewFlagSet("enrollctl", pflag.ContinueOnError)
	global.SetInterspersed(false)
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	baseURL := global.String("base-url", cfg.Portal.BaseURL, "enrollment API base URL")
	token := global.String("token", cfg.Portal.Token, "bearer token issued at sign-in")
	batchID := global.String("batch", cfg.Portal.BatchID, "batch id")
	timeout := global.Duration("timeout", cfg.Portal.Timeout, "per-request timeout")
	timezone := global.String("timezone", cfg.Portal.Timezone, "zone test slots are interpreted in")
	verbose := global.BoolP("verbose", "v", false, "log workflow internals")
	if err := global.Parse(args); err != nil {
		return err
	}
	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		return errors.New("missing command")
	}

	cfg.Portal.Timezone = *timezone
	loc, err := cfg.Portal.Location()
	if err != nil {
		return err
	}
	logr := zap.NewNop()
	if *verbose {
		cfg.Log.Format = "console"
		cfg.Log.Level = "debug"
		if logr, err = logger.New(cfg); err != nil {
			return err
		}
		defer logr.Sync() //nolint:errcheck
	}

	session, err := portal.NewSession(*token)
	if err != nil {
		return err
	}
	wf, err := portal.New(session, portal.Config{
		BaseURL:  *baseURL,
		BatchID:  *batchID,
		Location: loc,
		Timeout:  *timeout,
		Logger:   logr,
		Fees: workflow.Fees{
			RegistrationUnpaid: cfg.Fees.RegistrationUnpaid,
			RegistrationPaid:   cfg.Fees.RegistrationPaid,
			Course:             cfg.Fees.Course,
		},
	})
	if err != nil {
		return err
	}
	defer wf.Close()

	cmd, cmdArgs := rest[0], rest[1:]
	flags := pflag.NewFlagSet(cmd, pflag.ContinueOnError)
	switch cmd {
	case "status":
		if err := flags.Parse(cmdArgs); err != nil {
			return err
		}
		snap, err := wf.Refresh(ctx)
		if err != nil && !snap.Loaded {
			return err
		}
		printSnapshot(out, snap, wf.Countdown())
		return nil

	case "select-mode":
		mode := flags.String("mode", "", "PAID or UNPAID")
		accept := flags.Bool("accept-terms", false, "accept the terms and conditions")
		if err := flags.Parse(cmdArgs); err != nil {
			return err
		}
		outcome, err := wf.SelectMode(ctx, models.EnrollmentMode(strings.ToUpper(*mode)), *accept)
		return report(out, outcome, err)

	case "pay-registration":
		txn := flags.String("txn", "", "transaction id of the registration fee")
		if err := flags.Parse(cmdArgs); err != nil {
			return err
		}
		outcome, err := wf.SubmitRegistrationPayment(ctx, *txn)
		return report(out, outcome, err)

	case "book-slot":
		date := flags.String("date", "", "test date, YYYY-MM-DD")
		clock := flags.String("time", "", "test time, HH:MM")
		if err := flags.Parse(cmdArgs); err != nil {
			return err
		}
		outcome, err := wf.SubmitTestSlot(ctx, *date, *clock)
		if err := report(out, outcome, err); err != nil {
			return err
		}
		printCountdown(out, wf.Countdown())
		return nil

	case "pay-course":
		txn := flags.String("txn", "", "transaction id of the course fee")
		if err := flags.Parse(cmdArgs); err != nil {
			return err
		}
		outcome, err := wf.SubmitCourseFeePayment(ctx, *txn)
		return report(out, outcome, err)

	case "countdown":
		if err := flags.Parse(cmdArgs); err != nil {
			return err
		}
		return follow(ctx, wf, out)

	case "receipt":
		if err := flags.Parse(cmdArgs); err != nil {
			return err
		}
		if _, err := wf.Refresh(ctx); err != nil {
			return err
		}
		doc, err := wf.Receipt()
		if err != nil {
			return err
		}
		for _, line := range doc.Text() {
			fmt.Fprintln(out, line)
		}
		return nil

	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func follow(ctx context.Context, wf *portal.Workflow, out io.Writer) error {
	views := make(chan portal.CountdownView, 1)
	wf.OnCountdown(func(v portal.CountdownView) {
		select {
		case views <- v:
		default:
		}
	})
	if _, err := wf.Refresh(ctx); err != nil {
		return err
	}
	view := wf.Countdown()
	if view.Phase == portal.CountdownInert {
		fmt.Fprintln(out, "no test slot booked")
		return nil
	}
	for {
		printCountdown(out, view)
		if view.ProceedToTest() {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case view = <-views:
		}
	}
}

func report(out io.Writer, outcome portal.Outcome, err error) error {
	if err != nil {
		return err
	}
	if outcome.Ack.Message != "" {
		fmt.Fprintln(out, outcome.Ack.Message)
	}
	if outcome.SyncErr != nil {
		fmt.Fprintln(out, "submitted, but the refreshed status is unavailable:", describe(outcome.SyncErr))
	}
	printSnapshot(out, outcome.Snapshot, portal.CountdownView{Phase: portal.CountdownInert})
	return nil
}

func printSnapshot(out io.Writer, snap portal.Snapshot, countdown portal.CountdownView) {
	r := snap.Record
	fmt.Fprintf(out, "batch %s  status %s  mode %s  approved %t\n", r.BatchID, r.Status, r.Mode, r.AdminApproved)
	if r.Name != "" {
		fmt.Fprintf(out, "learner %s <%s> %s\n", r.Name, r.Email, r.Mobile)
	}
	for _, p := range r.PaymentHistory {
		fmt.Fprintf(out, "  paid %-12s %-20s %d\n", p.Purpose, p.TransactionID, p.Amount)
	}
	if snap.Stale {
		fmt.Fprintln(out, "(showing last known status, backend unreachable)")
	}
	if countdown.Phase != portal.CountdownInert {
		printCountdown(out, countdown)
	}
	var next []string
	for _, kind := range workflow.Available(r) {
		next = append(next, string(kind))
	}
	if len(next) > 0 {
		fmt.Fprintln(out, "next:", strings.Join(next, ", "))
	}
}

func printCountdown(out io.Writer, v portal.CountdownView) {
	switch v.Phase {
	case portal.CountdownReady:
		fmt.Fprintln(out, "test slot reached, proceed to test")
	case portal.CountdownRunning:
		fmt.Fprintf(out, "test at %s %s, %s remaining\n", v.Slot.Date, v.Slot.Time, v.Remaining.Truncate(time.Second))
	}
}

func describe(err error) string {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		if appErrors.Retryable(err) {
			return appErr.Message + " (retry)"
		}
		return appErr.Message
	}
	return err.Error()
}
