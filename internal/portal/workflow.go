// Package portal is the client side of the enrollment workflow: it caches the
// authoritative record, reconciles it with the backend, and turns user
// actions into submissions followed by a resynchronization.
package portal

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/batch-enrollment/internal/models"
	"github.com/noah-isme/batch-enrollment/internal/receipt"
	"github.com/noah-isme/batch-enrollment/internal/workflow"
	appErrors "github.com/noah-isme/batch-enrollment/pkg/errors"
)

// Config wires a Workflow.
type Config struct {
	BaseURL    string
	BatchID    string
	Fees       workflow.Fees
	Location   *time.Location
	Timeout    time.Duration
	Tick       time.Duration
	Now        func() time.Time
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Workflow drives every user action through decide, submit, resynchronize.
type Workflow struct {
	machine   *workflow.Machine
	store     *Store
	sync      *Synchronizer
	client    *Client
	payments  *Payments
	scheduler *Scheduler
	logger    *zap.Logger

	cancel context.CancelFunc
}

// New builds a Workflow bound to session. Close releases its timers.
func New(session *Session, cfg Config) (*Workflow, error) {
	if session == nil {
		return nil, appErrors.Clone(appErrors.ErrAuthExpired, "no credential available, please sign in")
	}
	if cfg.BatchID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "batch id is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	client := NewClient(cfg.BaseURL, session, WithHTTPClient(hc), WithClientLogger(logger))
	store := NewStore(cfg.BatchID)
	syncer := NewSynchronizer(client, store, cfg.BatchID, logger)
	syncer.now = now

	ctx, cancel := context.WithCancel(context.Background())
	scheduler := NewScheduler(ctx, client, syncer, loc, logger, WithTick(cfg.Tick), WithSchedulerClock(now))
	syncer.Observe(scheduler.Reconcile)

	return &Workflow{
		machine:   workflow.New(cfg.Fees, workflow.WithLocation(loc), workflow.WithClock(now)),
		store:     store,
		sync:      syncer,
		client:    client,
		payments:  NewPayments(client, syncer, logger),
		scheduler: scheduler,
		logger:    logger,
		cancel:    cancel,
	}, nil
}

// Refresh pulls the authoritative record, e.g. on start or resume.
func (w *Workflow) Refresh(ctx context.Context) (Snapshot, error) {
	return w.sync.Sync(ctx)
}

// Snapshot returns the cached state without contacting the backend.
func (w *Workflow) Snapshot() Snapshot {
	return w.store.Snapshot()
}

// SelectMode chooses the track. termsAccepted must be true.
func (w *Workflow) SelectMode(ctx context.Context, mode models.EnrollmentMode, termsAccepted bool) (Outcome, error) {
	return w.execute(ctx, workflow.SelectMode(mode, termsAccepted))
}

// SubmitRegistrationPayment submits the registration-fee transaction id.
func (w *Workflow) SubmitRegistrationPayment(ctx context.Context, transactionID string) (Outcome, error) {
	return w.execute(ctx, workflow.RegistrationPayment(transactionID))
}

// SubmitTestSlot books the test slot on the unpaid track.
func (w *Workflow) SubmitTestSlot(ctx context.Context, date, clock string) (Outcome, error) {
	return w.execute(ctx, workflow.BookTestSlot(date, clock))
}

// SubmitCourseFeePayment submits the course-fee transaction id.
func (w *Workflow) SubmitCourseFeePayment(ctx context.Context, transactionID string) (Outcome, error) {
	return w.execute(ctx, workflow.CourseFeePayment(transactionID))
}

// Countdown returns the live test-slot view.
func (w *Workflow) Countdown() CountdownView {
	return w.scheduler.View()
}

// OnCountdown registers fn to receive every countdown tick.
func (w *Workflow) OnCountdown(fn func(CountdownView)) {
	w.scheduler.OnUpdate(fn)
}

// Receipt projects the confirmed record.
func (w *Workflow) Receipt() (receipt.Receipt, error) {
	return receipt.Project(w.store.Snapshot().Record)
}

// Close stops the countdown timer. The workflow must not be used afterwards.
func (w *Workflow) Close() {
	w.scheduler.Stop()
	w.cancel()
}

func (w *Workflow) execute(ctx context.Context, action workflow.Action) (Outcome, error) {
	snap := w.store.Snapshot()
	if !snap.Loaded && !snap.AuthExpired {
		var err error
		snap, err = w.sync.Sync(ctx)
		if err != nil && !snap.Loaded {
			return Outcome{Snapshot: snap}, err
		}
	}
	if snap.AuthExpired {
		return Outcome{Snapshot: snap}, appErrors.Clone(appErrors.ErrAuthExpired, "")
	}

	intent, err := w.machine.Decide(snap.Record, action)
	if err != nil {
		w.logger.Debug("action rejected", zap.String("action", string(action.Kind)), zap.String("phase", string(workflow.StateOf(snap.Record).Phase())), zap.Error(err))
		return Outcome{Snapshot: snap}, err
	}

	var outcome Outcome
	switch {
	case intent.Purpose != "":
		outcome, err = w.payments.Submit(ctx, intent)
	case intent.Action == workflow.ActionBookTestSlot:
		outcome, err = w.scheduler.Book(ctx, intent)
	default:
		outcome, err = w.submitAndSync(ctx, intent)
	}
	if err != nil {
		if errors.Is(err, appErrors.ErrAuthExpired) {
			w.store.MarkAuthExpired(0)
		}
		if appErrors.Retryable(err) {
			w.logger.Warn("submission failed, user may retry", zap.String("action", string(action.Kind)), zap.Error(err))
		}
		return Outcome{Snapshot: w.store.Snapshot()}, err
	}
	return outcome, nil
}

func (w *Workflow) submitAndSync(ctx context.Context, intent workflow.Intent) (Outcome, error) {
	ack, err := w.client.Submit(ctx, intent)
	if err != nil {
		return Outcome{}, err
	}
	snap, syncErr := w.sync.Sync(ctx)
	return Outcome{Ack: ack, Snapshot: snap, SyncErr: syncErr}, nil
}
