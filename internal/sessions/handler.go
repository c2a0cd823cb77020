package sessions

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"brandpost-backend/internal/brand"
	"brandpost-backend/internal/catalog"
	"brandpost-backend/internal/extract"
	"brandpost-backend/internal/shared/errs"
	"brandpost-backend/internal/shared/server/middleware"
	"brandpost-backend/internal/shared/server/respond"
	"brandpost-backend/internal/shared/storage/object"
	"brandpost-backend/internal/variations"
)

const maxUploadSize = 10 << 20 // 10MB

// Handler exposes the Manager over HTTP.
type Handler struct {
	Mgr     *Manager
	Store   object.ObjectStore
	Catalog *catalog.Catalog
}

// NewHandler constructs a Handler.
func NewHandler(mgr *Manager, store object.ObjectStore, cat *catalog.Catalog) *Handler {
	return &Handler{Mgr: mgr, Store: store, Catalog: cat}
}

// GenerationSuffixes are the routes that call a generation capability; the rate limiter groups them.
var GenerationSuffixes = []string{"/brand", "/brand/upload", "/variations", "/feedback", "/image"}

// RegisterRoutes attaches session routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/quick-actions", h.quickActions)

	s := rg.Group("/sessions")
	s.POST("", h.create)
	s.GET("/:id", h.get)
	s.DELETE("/:id", h.delete)
	s.POST("/:id/brand", h.analyzeBrand)
	s.POST("/:id/brand/upload", h.uploadGuidelines)
	s.POST("/:id/variations", h.generateVariations)
	s.POST("/:id/select", h.selectVariation)
	s.POST("/:id/feedback", h.feedback)
	s.POST("/:id/accept", h.accept)
	s.POST("/:id/image", h.generateImage)
	s.GET("/:id/image", h.image)
	s.POST("/:id/export", h.export)
}

func (h *Handler) quickActions(c *gin.Context) {
	if h.Catalog == nil {
		respond.OK(c, gin.H{"quick_actions": []catalog.QuickAction{}})
		return
	}
	respond.OK(c, gin.H{"quick_actions": h.Catalog.QuickActionList()})
}

func (h *Handler) create(c *gin.Context) {
	view, err := h.Mgr.Create(c.Request.Context(), middleware.UserIDFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	markSession(c, view, "")
	respond.JSON(c, http.StatusCreated, view)
}

func (h *Handler) get(c *gin.Context) {
	view, err := h.Mgr.Get(c.Request.Context(), middleware.UserIDFromContext(c), sessionID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	markSession(c, view, "")
	respond.OK(c, view)
}

func (h *Handler) delete(c *gin.Context) {
	if err := h.Mgr.Delete(c.Request.Context(), middleware.UserIDFromContext(c), sessionID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type brandRequest struct {
	WebsiteText string   `json:"website_text"`
	Posts       []string `json:"posts"`
	Guidelines  string   `json:"guidelines"`
}

func (h *Handler) analyzeBrand(c *gin.Context) {
	var req brandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, errs.CodeInvalidRequest, "invalid request body", nil)
		return
	}
	h.runAnalyze(c, brand.Sources{WebsiteText: req.WebsiteText, Posts: req.Posts, Guidelines: req.Guidelines})
}

func (h *Handler) uploadGuidelines(c *gin.Context) {
	if h.Store == nil {
		respond.Error(c, http.StatusInternalServerError, errs.CodeInternal, "object store not configured", nil)
		return
	}
	userID := middleware.UserIDFromContext(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respond.Error(c, http.StatusBadRequest, errs.CodeInvalidRequest, "file is required", nil)
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, errs.CodeInvalidRequest, "unable to read file", nil)
		return
	}
	defer file.Close()

	ctx := c.Request.Context()
	key, _, mime, err := h.Store.Save(ctx, userID, fileHeader.Filename, file)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, errs.CodeInvalidRequest, "unable to store file", nil)
		return
	}
	text, err := extract.ExtractText(ctx, h.Store, key, mime, fileHeader.Filename)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupported) {
			respond.Error(c, http.StatusBadRequest, errs.CodeInvalidRequest, "guidelines must be PDF, DOCX, Markdown or plain text", nil)
			return
		}
		respond.Error(c, http.StatusBadRequest, errs.CodeInvalidRequest, "unable to read guidelines", nil)
		return
	}

	src := brand.Sources{
		WebsiteText: c.PostForm("website_text"),
		Posts:       c.PostFormArray("posts"),
		Guidelines:  text,
	}
	h.runAnalyze(c, src)
}

func (h *Handler) runAnalyze(c *gin.Context, src brand.Sources) {
	view, err := h.Mgr.AnalyzeBrand(c.Request.Context(), middleware.UserIDFromContext(c), sessionID(c), src)
	if err != nil {
		writeError(c, err)
		return
	}
	markSession(c, view, OpAnalyzeBrand)
	respond.OK(c, view)
}

func (h *Handler) generateVariations(c *gin.Context) {
	var req GenerateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, errs.CodeInvalidRequest, "invalid request body", nil)
		return
	}
	view, err := h.Mgr.GenerateVariations(c.Request.Context(), middleware.UserIDFromContext(c), sessionID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	markSession(c, view, OpGenerateVariations)
	respond.OK(c, view)
}

type selectRequest struct {
	VariationID int `json:"variation_id"`
}

func (h *Handler) selectVariation(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.VariationID <= 0 {
		respond.Error(c, http.StatusBadRequest, errs.CodeInvalidRequest, "variation_id is required", nil)
		return
	}
	view, err := h.Mgr.SelectVariation(c.Request.Context(), middleware.UserIDFromContext(c), sessionID(c), req.VariationID)
	if err != nil {
		writeError(c, err)
		return
	}
	markSession(c, view, OpSelectVariation)
	respond.OK(c, view)
}

type feedbackRequest struct {
	Feedback string `json:"feedback"`
}

func (h *Handler) feedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, errs.CodeInvalidRequest, "invalid request body", nil)
		return
	}
	res, err := h.Mgr.SubmitFeedback(c.Request.Context(), middleware.UserIDFromContext(c), sessionID(c), req.Feedback)
	if err != nil {
		writeError(c, err)
		return
	}
	markSession(c, res.View, OpSubmitFeedback)
	respond.OK(c, res)
}

func (h *Handler) accept(c *gin.Context) {
	view, err := h.Mgr.Accept(c.Request.Context(), middleware.UserIDFromContext(c), sessionID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	markSession(c, view, OpAccept)
	respond.OK(c, view)
}

type imageRequest struct {
	Hint string `json:"hint"`
}

func (h *Handler) generateImage(c *gin.Context) {
	var req imageRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, errs.CodeInvalidRequest, "invalid request body", nil)
			return
		}
	}
	view, err := h.Mgr.GenerateImage(c.Request.Context(), middleware.UserIDFromContext(c), sessionID(c), req.Hint)
	if err != nil {
		writeError(c, err)
		return
	}
	markSession(c, view, OpGenerateImage)
	respond.OK(c, view)
}

func (h *Handler) image(c *gin.Context) {
	rc, contentType, err := h.Mgr.OpenImage(c.Request.Context(), middleware.UserIDFromContext(c), sessionID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	defer rc.Close()
	if contentType == "" {
		contentType = "image/png"
	}
	c.DataFromReader(http.StatusOK, -1, contentType, rc, nil)
}

func (h *Handler) export(c *gin.Context) {
	rec, err := h.Mgr.Export(c.Request.Context(), middleware.UserIDFromContext(c), sessionID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set(middleware.TransitionKey, string(OpExport))
	respond.JSON(c, http.StatusCreated, rec)
}

func sessionID(c *gin.Context) string {
	id := strings.TrimSpace(c.Param("id"))
	c.Set(middleware.SessionIDKey, id)
	return id
}

func markSession(c *gin.Context, view View, op Op) {
	c.Set(middleware.SessionIDKey, view.ID)
	c.Set(middleware.StageKey, string(view.Stage))
	if op != "" {
		c.Set(middleware.TransitionKey, string(op))
	}
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	code := errs.Code(err)
	details := gin.H{}

	var se *errs.StageError
	if errors.As(err, &se) {
		details["stage"] = se.Stage
		if se.TaskKind != "" {
			details["task_kind"] = se.TaskKind
		}
		if se.VariationID > 0 {
			details["variation_id"] = se.VariationID
		}
		if se.Iteration > 0 {
			details["iteration"] = se.Iteration
		}
	}
	if reason := errs.Reason(err); reason != "" {
		details["reason"] = reason
	}
	var te *errs.TransitionError
	if errors.As(err, &te) {
		details["operation"] = te.Op
		details["missing"] = te.Missing
	}
	var be *variations.BatchError
	if errors.As(err, &be) {
		details["partial"] = be.Partial
	}
	details["recoverable"] = errs.Recoverable(err)

	status := http.StatusInternalServerError
	message := "internal error"
	switch code {
	case errs.CodeInvalidRequest:
		status, message = http.StatusBadRequest, err.Error()
	case errs.CodeGenerationUnavailable:
		status, message = http.StatusServiceUnavailable, "generation temporarily unavailable, retry later"
	case errs.CodeGenerationRejected:
		status, message = http.StatusUnprocessableEntity, "generation rejected"
	case errs.CodeVariationGenerationFailed:
		status, message = http.StatusBadGateway, "could not produce three variations"
	case errs.CodeRefinementLimitReached:
		status, message = http.StatusConflict, "refinement limit reached"
	case errs.CodeInvalidStateTransition:
		status, message = http.StatusConflict, err.Error()
	case errs.CodeNotFound:
		respond.Error(c, http.StatusNotFound, code, "session not found", nil)
		return
	}
	if status == http.StatusInternalServerError {
		respond.Error(c, status, code, message, nil)
		return
	}
	respond.Error(c, status, code, message, details)
}
