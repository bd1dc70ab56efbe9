package runs

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"leadscore-backend/internal/bizctx"
	"leadscore-backend/internal/credits"
	"leadscore-backend/internal/shared/server/middleware"
	"leadscore-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the runs service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches run routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/runs", h.startRun)
	rg.GET("/runs", h.listRuns)
	rg.GET("/runs/:id", h.getRun)
}

type startRunRequest struct {
	BusinessContextID string `json:"businessContextId"`
	SubjectIdentifier string `json:"subjectIdentifier"`
	AnalysisDepth     string `json:"analysisDepth"`
}

func (h *Handler) startRun(c *gin.Context) {
	accountID := middleware.AccountIDFromContext(c)

	var req startRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	run, err := h.Svc.Start(ctx, StartParams{
		AccountID:         accountID,
		BusinessContextID: req.BusinessContextID,
		SubjectIdentifier: req.SubjectIdentifier,
		AnalysisDepth:     req.AnalysisDepth,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateRun):
			respond.Error(c, http.StatusConflict, "duplicate_run", "An analysis for this subject is already in progress.", nil)
		case errors.Is(err, credits.ErrInsufficientCredits):
			respond.Error(c, http.StatusPaymentRequired, "insufficient_credits", "Not enough credits to start this analysis.", nil)
		case errors.Is(err, bizctx.ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "business context not found", nil)
		case errors.Is(err, ErrQueueNotConfigured):
			respond.Error(c, http.StatusServiceUnavailable, "unavailable", "run queue is not configured", nil)
		default:
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		}
		return
	}

	c.Set("runId", run.ID)
	respond.Accepted(c, gin.H{
		"runId":  run.ID,
		"status": run.Status,
	})
}

func (h *Handler) getRun(c *gin.Context) {
	runID := c.Param("id")
	if runID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "run id is required", nil)
		return
	}

	run, err := h.Svc.Get(c.Request.Context(), runID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "run not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch run", nil)
		}
		return
	}
	if run.AccountID != middleware.AccountIDFromContext(c) {
		respond.Error(c, http.StatusNotFound, "not_found", "run not found", nil)
		return
	}

	resp := gin.H{
		"runId":         run.ID,
		"status":        run.Status,
		"analysisDepth": run.AnalysisDepth,
		"createdAt":     run.CreatedAt,
	}
	// Failed runs may carry a result too: a check verdict stores its
	// summary and score override on the run.
	if run.Result != nil {
		resp["result"] = run.Result
	}
	if run.Status == StatusFailed {
		if run.ErrorCode != nil {
			resp["errorCode"] = *run.ErrorCode
		}
		if run.ErrorMessage != nil {
			resp["errorMessage"] = *run.ErrorMessage
		}
	}
	respond.JSON(c, http.StatusOK, resp)
}

func (h *Handler) listRuns(c *gin.Context) {
	accountID := middleware.AccountIDFromContext(c)

	limit := 20
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit < 0 {
		limit = 0
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = 0
	}

	list, err := h.Svc.List(c.Request.Context(), accountID, limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list runs", nil)
		return
	}

	resp := make([]gin.H, 0, len(list))
	for _, run := range list {
		item := gin.H{
			"runId":             run.ID,
			"subjectIdentifier": run.SubjectIdentifier,
			"analysisDepth":     run.AnalysisDepth,
			"status":            run.Status,
			"createdAt":         run.CreatedAt,
		}
		if run.Status == StatusComplete && run.Result != nil {
			if score, ok := run.Result["score"]; ok {
				item["score"] = score
			}
		}
		resp = append(resp, item)
	}
	respond.JSON(c, http.StatusOK, gin.H{"runs": resp})
}
