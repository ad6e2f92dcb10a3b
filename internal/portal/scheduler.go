package portal

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/batch-enrollment/internal/models"
	"github.com/noah-isme/batch-enrollment/internal/workflow"
)

// CountdownPhase is the local, non-persisted test-slot sub-state.
type CountdownPhase string

const (
	CountdownInert   CountdownPhase = "INERT"
	CountdownRunning CountdownPhase = "COUNTING_DOWN"
	CountdownReady   CountdownPhase = "READY"
)

// CountdownView is derived from the test slot and the clock alone.
type CountdownView struct {
	Phase     CountdownPhase
	Slot      *models.TestSlot
	Deadline  time.Time
	Remaining time.Duration
}

// ProceedToTest reports whether the "go to test" affordance is unlocked.
func (v CountdownView) ProceedToTest() bool {
	return v.Phase == CountdownReady
}

// DeriveCountdown computes the view for slot at now. Slots that cannot be
// parsed leave the scheduler inert.
func DeriveCountdown(slot *models.TestSlot, loc *time.Location, now time.Time) (CountdownView, error) {
	if slot == nil {
		return CountdownView{Phase: CountdownInert}, nil
	}
	deadline, err := slot.Deadline(loc)
	if err != nil {
		return CountdownView{Phase: CountdownInert}, err
	}
	copied := *slot
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return CountdownView{Phase: CountdownReady, Slot: &copied, Deadline: deadline}, nil
	}
	return CountdownView{Phase: CountdownRunning, Slot: &copied, Deadline: deadline, Remaining: remaining}, nil
}

// Countdown recomputes the remaining time on every tick until the deadline
// is reached. It owns a ticker that is released on Stop, on context
// cancellation, or once it reports ready.
type Countdown struct {
	deadline time.Time
	slot     models.TestSlot
	now      func() time.Time
	onTick   func(ctx context.Context, c *Countdown, view CountdownView)

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func startCountdown(ctx context.Context, slot models.TestSlot, deadline time.Time, tick time.Duration, now func() time.Time, onTick func(context.Context, *Countdown, CountdownView)) *Countdown {
	if tick <= 0 {
		tick = time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	c := &Countdown{deadline: deadline, slot: slot, now: now, onTick: onTick, cancel: cancel, done: make(chan struct{})}
	go c.run(ctx, tick)
	return c
}

func (c *Countdown) run(ctx context.Context, tick time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	if c.emit(ctx) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.emit(ctx) {
				return
			}
		}
	}
}

// emit publishes the current view and reports whether the deadline was reached.
func (c *Countdown) emit(ctx context.Context) bool {
	view := c.View()
	if c.onTick != nil {
		c.onTick(ctx, c, view)
	}
	return view.Phase == CountdownReady
}

// View recomputes the countdown against the clock.
func (c *Countdown) View() CountdownView {
	slot := c.slot
	remaining := c.deadline.Sub(c.now())
	if remaining <= 0 {
		return CountdownView{Phase: CountdownReady, Slot: &slot, Deadline: c.deadline}
	}
	return CountdownView{Phase: CountdownRunning, Slot: &slot, Deadline: c.deadline, Remaining: remaining}
}

// Done is closed once the ticker has been released.
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}

// Stop releases the ticker and waits for the goroutine to exit. Safe to call
// more than once.
func (c *Countdown) Stop() {
	c.once.Do(c.cancel)
	<-c.done
}

// Scheduler books test slots and keeps a countdown running while a slot is
// visible on the synced record.
type Scheduler struct {
	submitter intentSubmitter
	sync      resyncer
	location  *time.Location
	tick      time.Duration
	now       func() time.Time
	logger    *zap.Logger

	mu         sync.Mutex
	ctx        context.Context
	countdown  *Countdown
	latest     CountdownView
	reconciled uint64
	listeners  []func(CountdownView)

	updates chan countdownUpdate
}

type countdownUpdate struct {
	source *Countdown
	view   CountdownView
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTick overrides the one-second countdown tick.
func WithTick(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithSchedulerClock overrides the time source.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler constructs a Scheduler. ctx bounds the lifetime of every
// countdown it starts and of the goroutine delivering countdown views.
func NewScheduler(ctx context.Context, submitter intentSubmitter, sync resyncer, loc *time.Location, logger *zap.Logger, opts ...SchedulerOption) *Scheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		submitter: submitter,
		sync:      sync,
		location:  loc,
		tick:      time.Second,
		now:       time.Now,
		logger:    logger,
		ctx:       ctx,
		latest:    CountdownView{Phase: CountdownInert},
		updates:   make(chan countdownUpdate),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	go s.dispatch()
	return s
}

// Book submits a test-slot intent and resynchronizes.
func (s *Scheduler) Book(ctx context.Context, intent workflow.Intent) (Outcome, error) {
	ack, err := s.submitter.Submit(ctx, intent)
	if err != nil {
		return Outcome{}, err
	}
	snap, syncErr := s.sync.Sync(ctx)
	return Outcome{Ack: ack, Snapshot: snap, SyncErr: syncErr}, nil
}

// OnUpdate registers fn to receive every view of the current countdown.
// Listeners run in order on a goroutine owned by the scheduler, so they may
// call back into Reconcile, Stop or a workflow refresh.
func (s *Scheduler) OnUpdate(fn func(CountdownView)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Reconcile re-derives the countdown from a freshly synced snapshot. It
// starts a countdown when a visible slot appears, restarts it when the slot
// changes, and stops it when the slot disappears or the record is terminal.
// Snapshots older than the last one reconciled are ignored.
func (s *Scheduler) Reconcile(snap Snapshot) {
	slot := workflow.VisibleTestSlot(snap.Record)
	if snap.Record.TestSlot != nil && slot == nil {
		s.logger.Warn("hiding test slot on inconsistent record", zap.String("mode", string(snap.Record.Mode)))
	}
	if snap.Record.Status.Terminal() {
		slot = nil
	}

	s.mu.Lock()
	if snap.Seq < s.reconciled {
		s.mu.Unlock()
		s.logger.Debug("ignored superseded snapshot", zap.Uint64("seq", snap.Seq), zap.Uint64("reconciled", s.reconciled))
		return
	}
	s.reconciled = snap.Seq
	if slot != nil && s.countdown != nil && s.countdown.slot == *slot {
		s.mu.Unlock()
		return
	}
	previous := s.detachLocked()
	s.latest = CountdownView{Phase: CountdownInert}
	if slot != nil {
		deadline, err := slot.Deadline(s.location)
		if err != nil {
			s.logger.Warn("unparseable test slot", zap.String("date", slot.Date), zap.String("time", slot.Time), zap.Error(err))
		} else {
			s.countdown = startCountdown(s.ctx, *slot, deadline, s.tick, s.now, s.deliver)
			s.latest = s.countdown.View()
		}
	}
	s.mu.Unlock()

	if previous != nil {
		previous.Stop()
	}
}

// View returns the countdown recomputed against the clock now.
func (s *Scheduler) View() CountdownView {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countdown != nil {
		return s.countdown.View()
	}
	return s.latest
}

// Running reports whether a countdown goroutine currently holds a ticker.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	cd := s.countdown
	s.mu.Unlock()
	if cd == nil {
		return false
	}
	select {
	case <-cd.Done():
		return false
	default:
		return true
	}
}

// Stop releases any running countdown and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	previous := s.detachLocked()
	if previous != nil {
		s.latest = previous.View()
	}
	s.mu.Unlock()

	if previous != nil {
		previous.Stop()
	}
}

// detachLocked hands the running countdown to the caller, who must Stop it
// after releasing s.mu.
func (s *Scheduler) detachLocked() *Countdown {
	cd := s.countdown
	s.countdown = nil
	return cd
}

// deliver runs on the countdown goroutine. It gives up once the countdown
// is stopped so Stop never waits on a busy listener.
func (s *Scheduler) deliver(ctx context.Context, c *Countdown, view CountdownView) {
	select {
	case s.updates <- countdownUpdate{source: c, view: view}:
	case <-ctx.Done():
	}
}

func (s *Scheduler) dispatch() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case u := <-s.updates:
			s.mu.Lock()
			current := u.source == s.countdown
			listeners := append([]func(CountdownView){}, s.listeners...)
			s.mu.Unlock()
			if !current {
				continue
			}
			for _, fn := range listeners {
				fn(u.view)
			}
		}
	}
}
