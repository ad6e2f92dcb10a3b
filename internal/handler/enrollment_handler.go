package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/batch-enrollment/internal/dto"
	"github.com/noah-isme/batch-enrollment/internal/middleware"
	"github.com/noah-isme/batch-enrollment/internal/models"
	"github.com/noah-isme/batch-enrollment/internal/receipt"
	appErrors "github.com/noah-isme/batch-enrollment/pkg/errors"
	"github.com/noah-isme/batch-enrollment/pkg/response"
)

type enrollmentService interface {
	Status(ctx context.Context, actor *models.JWTClaims, batchID string) (*models.EnrollmentRecord, error)
	SelectMode(ctx context.Context, actor *models.JWTClaims, req dto.SelectModeRequest) (*dto.Ack, error)
	SubmitRegistrationPayment(ctx context.Context, actor *models.JWTClaims, req dto.RegistrationPaymentRequest) (*dto.Ack, error)
	BookTestSlot(ctx context.Context, actor *models.JWTClaims, req dto.TestSlotRequest) (*dto.Ack, error)
	SubmitCoursePayment(ctx context.Context, actor *models.JWTClaims, req dto.CoursePaymentRequest) (*dto.Ack, error)
}

// EnrollmentHandler exposes the learner-facing batch enrollment endpoints.
type EnrollmentHandler struct {
	enrollments enrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// Status godoc
// @Summary Get enrollment status
// @Tags Enrollment
// @Produce json
// @Param batchId query string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Router /enrollment/status [get]
func (h *EnrollmentHandler) Status(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	record, err := h.enrollments.Status(c.Request.Context(), claims, c.Query("batchId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// SelectMode godoc
// @Summary Select PAID or UNPAID track
// @Tags Enrollment
// @Accept json
// @Produce json
// @Param payload body dto.SelectModeRequest true "Mode selection"
// @Success 200 {object} response.Envelope
// @Router /enrollment/select-mode [post]
func (h *EnrollmentHandler) SelectMode(c *gin.Context) {
	var req dto.SelectModeRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c, func(ctx context.Context, claims *models.JWTClaims) (*dto.Ack, error) {
		return h.enrollments.SelectMode(ctx, claims, req)
	})
}

// RegistrationPayment godoc
// @Summary Submit registration fee transaction
// @Tags Enrollment
// @Accept json
// @Produce json
// @Param payload body dto.RegistrationPaymentRequest true "Registration payment"
// @Success 200 {object} response.Envelope
// @Router /enrollment/registration-pay [post]
func (h *EnrollmentHandler) RegistrationPayment(c *gin.Context) {
	var req dto.RegistrationPaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c, func(ctx context.Context, claims *models.JWTClaims) (*dto.Ack, error) {
		return h.enrollments.SubmitRegistrationPayment(ctx, claims, req)
	})
}

// TestSlot godoc
// @Summary Book the test slot
// @Tags Enrollment
// @Accept json
// @Produce json
// @Param payload body dto.TestSlotRequest true "Test slot"
// @Success 200 {object} response.Envelope
// @Router /enrollment/test-slot [post]
func (h *EnrollmentHandler) TestSlot(c *gin.Context) {
	var req dto.TestSlotRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c, func(ctx context.Context, claims *models.JWTClaims) (*dto.Ack, error) {
		return h.enrollments.BookTestSlot(ctx, claims, req)
	})
}

// CoursePayment godoc
// @Summary Submit course fee transaction
// @Tags Enrollment
// @Accept json
// @Produce json
// @Param payload body dto.CoursePaymentRequest true "Course payment"
// @Success 200 {object} response.Envelope
// @Router /enrollment/course-pay [post]
func (h *EnrollmentHandler) CoursePayment(c *gin.Context) {
	var req dto.CoursePaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c, func(ctx context.Context, claims *models.JWTClaims) (*dto.Ack, error) {
		return h.enrollments.SubmitCoursePayment(ctx, claims, req)
	})
}

// Receipt godoc
// @Summary Get the receipt of a confirmed seat
// @Tags Enrollment
// @Produce json
// @Param batchId query string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Router /enrollment/receipt [get]
func (h *EnrollmentHandler) Receipt(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	record, err := h.enrollments.Status(c.Request.Context(), claims, c.Query("batchId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	doc, err := receipt.Project(*record)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

func (h *EnrollmentHandler) respond(c *gin.Context, call func(context.Context, *models.JWTClaims) (*dto.Ack, error)) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	ack, err := call(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ack, nil)
}

func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return false
	}
	return true
}

// claimsFromContext returns the authenticated caller, or nil when the JWT
// middleware did not run or the token carried no subject.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok || claims == nil || claims.UserID == "" {
		return nil
	}
	return claims
}
