package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/batch-enrollment/internal/dto"
	"github.com/noah-isme/batch-enrollment/internal/models"
	appErrors "github.com/noah-isme/batch-enrollment/pkg/errors"
	"github.com/noah-isme/batch-enrollment/pkg/export"
	"github.com/noah-isme/batch-enrollment/pkg/response"
)

type enrollmentReviewService interface {
	Approve(ctx context.Context, admin *models.JWTClaims, userID, batchID string, req dto.AdminDecisionRequest) (*models.EnrollmentRecord, error)
	Revoke(ctx context.Context, admin *models.JWTClaims, userID, batchID string, req dto.AdminDecisionRequest) (*models.EnrollmentRecord, error)
	List(ctx context.Context, query dto.EnrollmentQuery) ([]models.Enrollment, *models.Pagination, error)
	Export(ctx context.Context, query dto.EnrollmentQuery) ([]models.Enrollment, error)
}

var exportHeaders = []string{"user_id", "batch_id", "name", "email", "mobile", "status", "mode", "admin_approved", "test_slot", "reviewed_by", "updated_at"}

// AdminHandler exposes the review queue used to grant or revoke approval.
type AdminHandler struct {
	reviews enrollmentReviewService
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(reviews enrollmentReviewService) *AdminHandler {
	return &AdminHandler{reviews: reviews}
}

// List godoc
// @Summary List enrollments for review
// @Tags Admin
// @Produce json
// @Param batchId query string false "Filter by batch"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/enrollments [get]
func (h *AdminHandler) List(c *gin.Context) {
	query := reviewQuery(c)
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		query.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		query.PageSize = size
	}
	enrollments, pagination, err := h.reviews.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Export godoc
// @Summary Export the review queue as CSV
// @Tags Admin
// @Produce text/csv
// @Param batchId query string false "Filter by batch"
// @Param status query string false "Filter by status"
// @Success 200 {string} string "CSV file"
// @Router /admin/enrollments/export [get]
func (h *AdminHandler) Export(c *gin.Context) {
	enrollments, err := h.reviews.Export(c.Request.Context(), reviewQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	table := export.Table{Headers: exportHeaders, Rows: make([][]string, 0, len(enrollments))}
	for _, e := range enrollments {
		slot := ""
		if e.TestSlotDate.Valid && e.TestSlotTime.Valid {
			slot = e.TestSlotDate.String + " " + e.TestSlotTime.String
		}
		table.Rows = append(table.Rows, []string{
			e.UserID, e.BatchID, e.Name, e.Email, e.Mobile, string(e.Status), string(e.Mode),
			strconv.FormatBool(e.AdminApproved), slot, e.ReviewedBy.String, e.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="enrollments.csv"`)
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)
	if err := export.WriteCSV(c.Writer, table); err != nil {
		_ = c.Error(err)
	}
}

// Approve godoc
// @Summary Approve an enrollment
// @Tags Admin
// @Accept json
// @Produce json
// @Param batchId path string true "Batch ID"
// @Param userId path string true "Learner ID"
// @Param payload body dto.AdminDecisionRequest false "Review note"
// @Success 200 {object} response.Envelope
// @Router /admin/enrollments/{batchId}/{userId}/approve [post]
func (h *AdminHandler) Approve(c *gin.Context) {
	h.decide(c, h.reviews.Approve)
}

// Revoke godoc
// @Summary Revoke an enrollment approval
// @Tags Admin
// @Accept json
// @Produce json
// @Param batchId path string true "Batch ID"
// @Param userId path string true "Learner ID"
// @Param payload body dto.AdminDecisionRequest false "Review note"
// @Success 200 {object} response.Envelope
// @Router /admin/enrollments/{batchId}/{userId}/revoke [post]
func (h *AdminHandler) Revoke(c *gin.Context) {
	h.decide(c, h.reviews.Revoke)
}

func reviewQuery(c *gin.Context) dto.EnrollmentQuery {
	return dto.EnrollmentQuery{
		BatchID: c.Query("batchId"),
		Status:  models.EnrollmentStatus(strings.ToUpper(c.Query("status"))),
	}
}

type reviewFunc func(ctx context.Context, admin *models.JWTClaims, userID, batchID string, req dto.AdminDecisionRequest) (*models.EnrollmentRecord, error)

func (h *AdminHandler) decide(c *gin.Context, fn reviewFunc) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.AdminDecisionRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	record, err := fn(c.Request.Context(), claims, c.Param("userId"), c.Param("batchId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}
