package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/questionbank-backend/internal/platform/logger"
	"github.com/yungbote/questionbank-backend/internal/services"
	"github.com/yungbote/questionbank-backend/internal/types"
)

type StagingHandler struct {
	log        *logger.Logger
	stagingSvc services.StagingService
	reviewSvc  services.ReviewService
	importSvc  services.ImportService
}

func NewStagingHandler(
	log *logger.Logger,
	stagingSvc services.StagingService,
	reviewSvc services.ReviewService,
	importSvc services.ImportService,
) *StagingHandler {
	return &StagingHandler{
		log:        log.With("handler", "StagingHandler"),
		stagingSvc: stagingSvc,
		reviewSvc:  reviewSvc,
		importSvc:  importSvc,
	}
}

type createBatchRequest struct {
	SourceName string `json:"source_name" binding:"required"`
	Document   string `json:"document" binding:"required"`
}

// POST /api/batches
// Parse, validate and stage one document as a new batch.
func (h *StagingHandler) CreateBatch(c *gin.Context) {
	var req createBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	detail, err := h.stagingSvc.CreateBatch(c.Request.Context(), req.SourceName, req.Document)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondCreated(c, detail)
}

type validateDocumentRequest struct {
	Document string `json:"document" binding:"required"`
}

// POST /api/documents/validate
// Dry-run: parse and validate without staging anything.
func (h *StagingHandler) ValidateDocument(c *gin.Context) {
	var req validateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	report, err := h.stagingSvc.ValidateDocument(c.Request.Context(), req.Document)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, report)
}

// GET /api/batches?status=&page=&page_size=
func (h *StagingHandler) ListBatches(c *gin.Context) {
	page := intQuery(c, "page", 1)
	pageSize := intQuery(c, "page_size", 20)
	list, err := h.stagingSvc.ListBatches(c.Request.Context(), c.Query("status"), page, pageSize)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, list)
}

// GET /api/batches/:id
func (h *StagingHandler) GetBatch(c *gin.Context) {
	batchID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	detail, err := h.stagingSvc.GetBatch(c.Request.Context(), batchID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, detail)
}

type reviewRequest struct {
	Approve     []uuid.UUID `json:"approve"`
	Reject      []uuid.UUID `json:"reject"`
	Version     int         `json:"version" binding:"required"`
	ReviewNotes string      `json:"review_notes"`
}

// POST /api/batches/:id/review
func (h *StagingHandler) Review(c *gin.Context) {
	batchID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if len(req.Approve) == 0 && len(req.Reject) == 0 {
		RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("nothing to review"))
		return
	}
	detail, err := h.reviewSvc.Review(c.Request.Context(), batchID, req.Approve, req.Reject, req.Version, req.ReviewNotes)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, detail)
}

type resolveDuplicateRequest struct {
	Resolution types.DuplicateResolution `json:"resolution" binding:"required"`
	Version    int                       `json:"version" binding:"required"`
	Notes      string                    `json:"notes"`
}

// POST /api/duplicates/:id/resolve
func (h *StagingHandler) ResolveDuplicate(c *gin.Context) {
	dupID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req resolveDuplicateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	detail, err := h.reviewSvc.ResolveDuplicate(c.Request.Context(), dupID, req.Resolution, req.Version, req.Notes)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, detail)
}

type versionedRequest struct {
	Version int `json:"version" binding:"required"`
}

// POST /api/batches/:id/import
func (h *StagingHandler) ImportBatch(c *gin.Context) {
	batchID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req versionedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	report, err := h.importSvc.ImportBatch(c.Request.Context(), batchID, req.Version)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, report)
}

// POST /api/batches/:id/cancel
func (h *StagingHandler) CancelBatch(c *gin.Context) {
	batchID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req versionedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	batch, err := h.stagingSvc.CancelBatch(c.Request.Context(), batchID, req.Version)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, batch)
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("invalid id"))
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(c *gin.Context, name string, defaultVal int) int {
	raw := c.Query(name)
	if raw == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return defaultVal
	}
	return n
}
