package portal

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/batch-enrollment/internal/dto"
	"github.com/noah-isme/batch-enrollment/internal/models"
	"github.com/noah-isme/batch-enrollment/internal/workflow"
	appErrors "github.com/noah-isme/batch-enrollment/pkg/errors"
)

type intentSubmitter interface {
	Submit(ctx context.Context, intent workflow.Intent) (dto.Ack, error)
}

type resyncer interface {
	Sync(ctx context.Context) (Snapshot, error)
}

// Outcome is the result of the two-phase submit-then-resynchronize protocol.
type Outcome struct {
	Ack      dto.Ack
	Snapshot Snapshot
	// SyncErr is set when the submission succeeded but the follow-up fetch
	// did not; the snapshot is then the stale pre-submission cache.
	SyncErr error
}

// Payments serializes fee submissions, one in flight per purpose.
type Payments struct {
	submitter intentSubmitter
	sync      resyncer
	logger    *zap.Logger

	mu       sync.Mutex
	inflight map[models.PaymentPurpose]bool
}

// NewPayments constructs a payment submission handler.
func NewPayments(submitter intentSubmitter, sync resyncer, logger *zap.Logger) *Payments {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Payments{submitter: submitter, sync: sync, logger: logger, inflight: make(map[models.PaymentPurpose]bool)}
}

// Submit sends a payment intent. The purpose stays locked until the
// follow-up status fetch has completed so a resubmission cannot be decided
// against the pre-payment record.
func (p *Payments) Submit(ctx context.Context, intent workflow.Intent) (Outcome, error) {
	if intent.Purpose == "" {
		return Outcome{}, appErrors.Clone(appErrors.ErrValidation, "not a payment request")
	}
	if strings.TrimSpace(transactionID(intent)) == "" {
		return Outcome{}, appErrors.Clone(appErrors.ErrValidation, "transaction id is required")
	}
	if !p.acquire(intent.Purpose) {
		return Outcome{}, appErrors.Clone(appErrors.ErrSubmissionInProgress, fmt.Sprintf("%s payment already being submitted", strings.ToLower(string(intent.Purpose))))
	}
	defer p.release(intent.Purpose)

	ack, err := p.submitter.Submit(ctx, intent)
	if err != nil {
		p.logger.Info("payment submission rejected", zap.String("purpose", string(intent.Purpose)), zap.Error(err))
		return Outcome{}, err
	}
	p.logger.Info("payment submitted", zap.String("purpose", string(intent.Purpose)))

	snap, syncErr := p.sync.Sync(ctx)
	return Outcome{Ack: ack, Snapshot: snap, SyncErr: syncErr}, nil
}

// InFlight reports whether a submission for purpose is pending.
func (p *Payments) InFlight(purpose models.PaymentPurpose) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight[purpose]
}

func (p *Payments) acquire(purpose models.PaymentPurpose) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight[purpose] {
		return false
	}
	p.inflight[purpose] = true
	return true
}

func (p *Payments) release(purpose models.PaymentPurpose) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, purpose)
}

func transactionID(intent workflow.Intent) string {
	switch payload := intent.Payload.(type) {
	case dto.RegistrationPaymentRequest:
		return payload.TransactionID
	case dto.CoursePaymentRequest:
		return payload.TransactionID
	default:
		return ""
	}
}
