package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/batch-enrollment/internal/dto"
	"github.com/noah-isme/batch-enrollment/internal/models"
	"github.com/noah-isme/batch-enrollment/internal/workflow"
	appErrors "github.com/noah-isme/batch-enrollment/pkg/errors"
)

const maxErrorBody = 64 << 10

// envelope mirrors the server response contract.
type envelope struct {
	Data  json.RawMessage  `json:"data,omitempty"`
	Error *appErrors.Error `json:"error,omitempty"`
}

// Client talks to the authoritative enrollment API.
type Client struct {
	baseURL string
	session *Session
	http    *http.Client
	logger  *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a Client for baseURL, e.g. http://host/api/v1.
func NewClient(baseURL string, session *Session, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		session: session,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// FetchStatus pulls the authoritative record. A missing row is reported as
// the NOT_REGISTERED default.
func (c *Client) FetchStatus(ctx context.Context, batchID string) (models.EnrollmentRecord, error) {
	endpoint := c.baseURL + workflow.EndpointStatus + "?batchId=" + url.QueryEscape(batchID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.EnrollmentRecord{}, appErrors.Wrap(err, appErrors.ErrSyncUnavailable.Code, appErrors.ErrSyncUnavailable.Status, "failed to build status request")
	}
	c.session.Authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return models.EnrollmentRecord{}, appErrors.Wrap(err, appErrors.ErrSyncUnavailable.Code, appErrors.ErrSyncUnavailable.Status, appErrors.ErrSyncUnavailable.Message)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return models.NewUnregisteredRecord("", batchID), nil
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return models.EnrollmentRecord{}, c.failure(resp, appErrors.ErrSyncUnavailable)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return models.EnrollmentRecord{}, appErrors.Wrap(err, appErrors.ErrSyncUnavailable.Code, appErrors.ErrSyncUnavailable.Status, "malformed status response")
	}
	var record models.EnrollmentRecord
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &record); err != nil {
			return models.EnrollmentRecord{}, appErrors.Wrap(err, appErrors.ErrSyncUnavailable.Code, appErrors.ErrSyncUnavailable.Status, "malformed status payload")
		}
	}
	if record.Status == "" {
		record.Status = models.StatusNotRegistered
	}
	if record.Mode == "" {
		record.Mode = models.ModeUnset
	}
	if record.BatchID == "" {
		record.BatchID = batchID
	}
	if record.PaymentHistory == nil {
		record.PaymentHistory = []models.PaymentEntry{}
	}
	return record, nil
}

// Submit issues the request described by an admitted intent.
func (c *Client) Submit(ctx context.Context, intent workflow.Intent) (dto.Ack, error) {
	body, err := json.Marshal(intent.Payload)
	if err != nil {
		return dto.Ack{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+intent.Endpoint, bytes.NewReader(body))
	if err != nil {
		return dto.Ack{}, appErrors.Wrap(err, appErrors.ErrSubmissionUnavailable.Code, appErrors.ErrSubmissionUnavailable.Status, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	c.session.Authorize(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("enrollment submission failed", zap.String("action", string(intent.Action)), zap.Error(err))
		return dto.Ack{}, appErrors.Wrap(err, appErrors.ErrSubmissionUnavailable.Code, appErrors.ErrSubmissionUnavailable.Status, appErrors.ErrSubmissionUnavailable.Message)
	}
	defer resp.Body.Close()
	c.logger.Debug("enrollment submission", zap.String("action", string(intent.Action)), zap.Int("status", resp.StatusCode), zap.Duration("latency", time.Since(start)))

	if resp.StatusCode >= http.StatusMultipleChoices {
		return dto.Ack{}, c.failure(resp, appErrors.ErrSubmissionUnavailable)
	}

	ack := dto.Ack{Accepted: true}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err == nil && len(env.Data) > 0 {
		_ = json.Unmarshal(env.Data, &ack)
	}
	return ack, nil
}

// remoteSentinels are server codes that keep their typed meaning on the
// client. Any other semantic rejection surfaces as REMOTE_REJECTED.
var remoteSentinels = map[string]*appErrors.Error{
	appErrors.ErrTerminalState.Code:      appErrors.ErrTerminalState,
	appErrors.ErrPreconditionFailed.Code: appErrors.ErrPreconditionFailed,
}

// failure maps a non-2xx response onto the client error taxonomy. transient
// is the error used for server-side outages.
func (c *Client) failure(resp *http.Response, transient *appErrors.Error) error {
	code, reason := readReason(resp.Body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return appErrors.Clone(appErrors.ErrAuthExpired, "")
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return appErrors.Wrap(fmt.Errorf("server responded %d: %s", resp.StatusCode, reason), transient.Code, transient.Status, transient.Message)
	default:
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		sentinel, ok := remoteSentinels[code]
		if !ok {
			sentinel = appErrors.ErrRemoteRejected
		}
		rejected := appErrors.Clone(sentinel, reason)
		rejected.Status = resp.StatusCode
		return rejected
	}
}

// readReason extracts the server error code and message, falling back to the
// raw body.
func readReason(body io.Reader) (string, string) {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return "", ""
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		return env.Error.Code, env.Error.Message
	}
	return "", strings.TrimSpace(string(raw))
}
