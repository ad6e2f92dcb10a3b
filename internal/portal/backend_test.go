package portal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/noah-isme/batch-enrollment/internal/dto"
	"github.com/noah-isme/batch-enrollment/internal/models"
	"github.com/noah-isme/batch-enrollment/internal/workflow"
)

const testToken = "token-1"

// fakeBackend simulates the enrollment API with an in-memory record.
type fakeBackend struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	record   *models.EnrollmentRecord
	requests map[string]int
	// forced overrides every response status when non-zero.
	forced int
	reject map[string]string
	// rejectStatus and rejectCode override the 422 VALIDATION_ERROR used for reject.
	rejectStatus int
	rejectCode   string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{t: t, requests: map[string]int{}, reject: map[string]string{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1"+workflow.EndpointStatus, b.status)
	mux.HandleFunc("/api/v1"+workflow.EndpointSelectMode, b.selectMode)
	mux.HandleFunc("/api/v1"+workflow.EndpointRegistrationPayment, b.registrationPay)
	mux.HandleFunc("/api/v1"+workflow.EndpointTestSlot, b.testSlot)
	mux.HandleFunc("/api/v1"+workflow.EndpointCoursePayment, b.coursePay)
	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBackend) baseURL() string {
	return b.server.URL + "/api/v1"
}

func (b *fakeBackend) count(endpoint string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[endpoint]
}

func (b *fakeBackend) approve(approved bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record.AdminApproved = approved
	if approved && b.record.Status == models.StatusWaitingAdmin {
		b.record.Status = models.StatusAdminApproved
	}
}

func (b *fakeBackend) force(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forced = status
}

// begin records the request and reports whether the handler should go on.
func (b *fakeBackend) begin(w http.ResponseWriter, r *http.Request, endpoint string) bool {
	b.requests[endpoint]++
	if r.Header.Get("Authorization") != "Bearer "+testToken {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return false
	}
	if b.forced != 0 {
		writeError(w, b.forced, "FORCED", http.StatusText(b.forced))
		return false
	}
	if msg, ok := b.reject[endpoint]; ok {
		status, code := http.StatusUnprocessableEntity, "VALIDATION_ERROR"
		if b.rejectStatus != 0 {
			status, code = b.rejectStatus, b.rejectCode
		}
		writeError(w, status, code, msg)
		return false
	}
	return true
}

func (b *fakeBackend) status(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.begin(w, r, workflow.EndpointStatus) {
		return
	}
	if b.record == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "enrollment not found")
		return
	}
	writeData(w, b.record)
}

func (b *fakeBackend) selectMode(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.begin(w, r, workflow.EndpointSelectMode) {
		return
	}
	var req dto.SelectModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid payload")
		return
	}
	record := models.NewUnregisteredRecord("user-1", req.BatchID)
	record.Name, record.Email, record.Mobile = "Ana", "ana@example.com", "0812"
	record.Status = models.StatusModeSelected
	record.Mode = req.Mode
	record.TermsAccepted = req.TermsAccepted
	b.record = &record
	writeData(w, dto.Ack{Accepted: true, Message: "mode selected"})
}

func (b *fakeBackend) registrationPay(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.begin(w, r, workflow.EndpointRegistrationPayment) {
		return
	}
	var req dto.RegistrationPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid payload")
		return
	}
	b.record.PaymentHistory = append(b.record.PaymentHistory, models.PaymentEntry{
		TransactionID: req.TransactionID, Amount: req.Amount, Purpose: models.PurposeRegistration, Timestamp: time.Now().UTC(),
	})
	b.record.Status = models.StatusWaitingAdmin
	writeData(w, dto.Ack{Accepted: true})
}

func (b *fakeBackend) testSlot(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.begin(w, r, workflow.EndpointTestSlot) {
		return
	}
	var req dto.TestSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid payload")
		return
	}
	b.record.TestSlot = &models.TestSlot{Date: req.Date, Time: req.Time}
	writeData(w, dto.Ack{Accepted: true})
}

func (b *fakeBackend) coursePay(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.begin(w, r, workflow.EndpointCoursePayment) {
		return
	}
	var req dto.CoursePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid payload")
		return
	}
	b.record.PaymentHistory = append(b.record.PaymentHistory, models.PaymentEntry{
		TransactionID: req.TransactionID, Amount: req.Amount, Purpose: models.PurposeCourse,
		ApprovedAtSubmission: b.record.AdminApproved, Timestamp: time.Now().UTC(),
	})
	b.record.Status = models.StatusSeatConfirmed
	writeData(w, dto.Ack{Accepted: true, Message: "seat confirmed"})
}

func writeData(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{"code": code, "message": message, "status": status},
	})
}
