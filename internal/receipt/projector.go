// Package receipt projects a confirmed enrollment into a printable receipt.
package receipt

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/batch-enrollment/internal/models"
	appErrors "github.com/noah-isme/batch-enrollment/pkg/errors"
)

// Line is one payment row on the receipt.
type Line struct {
	Purpose       models.PaymentPurpose `json:"purpose"`
	TransactionID string                `json:"transactionId"`
	Amount        int64                 `json:"amount"`
	PaidAt        time.Time             `json:"paidAt"`
}

// Receipt is the printable summary of a confirmed seat.
type Receipt struct {
	Number  string                  `json:"number"`
	UserID  string                  `json:"userId"`
	BatchID string                  `json:"batchId"`
	Name    string                  `json:"name"`
	Email   string                  `json:"email"`
	Mobile  string                  `json:"mobile"`
	Mode    models.EnrollmentMode   `json:"mode"`
	Status  models.EnrollmentStatus `json:"status"`
	Lines   []Line                  `json:"lines"`
	Total   int64                   `json:"total"`
}

// Project builds the receipt. Only SEAT_CONFIRMED records have one.
func Project(record models.EnrollmentRecord) (Receipt, error) {
	if record.Status != models.StatusSeatConfirmed {
		return Receipt{}, appErrors.Clone(appErrors.ErrPreconditionFailed, "receipt is available once the seat is confirmed")
	}
	r := Receipt{
		Number:  receiptNumber(record.BatchID, record.UserID),
		UserID:  record.UserID,
		BatchID: record.BatchID,
		Name:    record.Name,
		Email:   record.Email,
		Mobile:  record.Mobile,
		Mode:    record.Mode,
		Status:  record.Status,
		Lines:   make([]Line, 0, len(record.PaymentHistory)),
	}
	for _, p := range record.PaymentHistory {
		r.Lines = append(r.Lines, Line{Purpose: p.Purpose, TransactionID: p.TransactionID, Amount: p.Amount, PaidAt: p.Timestamp})
		r.Total += p.Amount
	}
	return r, nil
}

func receiptNumber(batchID, userID string) string {
	clean := func(s string) string {
		s = strings.ToUpper(strings.TrimSpace(s))
		if len(s) > 8 {
			s = s[:8]
		}
		if s == "" {
			return "NA"
		}
		return s
	}
	return fmt.Sprintf("ENR-%s-%s", clean(batchID), clean(userID))
}

// Text renders the receipt as plain text rows.
func (r Receipt) Text() []string {
	out := []string{
		"ENROLLMENT RECEIPT " + r.Number,
		"Name:    " + r.Name,
		"Email:   " + r.Email,
		"Mobile:  " + r.Mobile,
		"Batch:   " + r.BatchID,
		"Track:   " + string(r.Mode),
		"Status:  " + string(r.Status),
	}
	for _, l := range r.Lines {
		out = append(out, fmt.Sprintf("%-12s %-24s %10d  %s", l.Purpose, l.TransactionID, l.Amount, l.PaidAt.UTC().Format(time.RFC3339)))
	}
	out = append(out, fmt.Sprintf("Total paid: %d", r.Total))
	return out
}
