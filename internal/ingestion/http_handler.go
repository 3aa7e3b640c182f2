package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rpattn/fleetload/internal/auth"
	"github.com/rpattn/fleetload/internal/domain"
	"github.com/rpattn/fleetload/internal/logging"
	"github.com/rpattn/fleetload/internal/progress"
	"github.com/rpattn/fleetload/internal/repository"
	"github.com/rpattn/fleetload/internal/schema"
	"github.com/rpattn/fleetload/internal/template"
)

const (
	xlsxContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	defaultPageSize   = 20
	maxPageSize       = 100
	multipartMemory   = 32 << 20
	multipartOverhead = 1 << 20
)

// Subscriber joins live progress topics.
type Subscriber interface {
	Subscribe(batchID uuid.UUID) *progress.Subscription
}

// Handler exposes the ingestion service over HTTP.
type Handler struct {
	service   *Service
	progress  Subscriber
	upgrader  websocket.Upgrader
	keepAlive time.Duration
	logger    *zap.Logger
}

type HandlerOption func(*Handler)

// WithKeepAlive sets how often idle progress streams are pinged and re-check status.
func WithKeepAlive(interval time.Duration) HandlerOption {
	return func(h *Handler) {
		if interval > 0 {
			h.keepAlive = interval
		}
	}
}

// WithCheckOrigin restricts websocket upgrades.
func WithCheckOrigin(check func(r *http.Request) bool) HandlerOption {
	return func(h *Handler) {
		if check != nil {
			h.upgrader.CheckOrigin = check
		}
	}
}

func NewHTTPHandler(service *Service, subscriber Subscriber, opts ...HandlerOption) *Handler {
	h := &Handler{
		service:  service,
		progress: subscriber,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		keepAlive: 15 * time.Second,
		logger:    service.logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts the ingestion endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/batches", func(r chi.Router) {
		r.Post("/", h.handleUpload)
		r.Get("/", h.handleHistory)
		r.Route("/{batchID}", func(r chi.Router) {
			r.Get("/", h.handleStatus)
			r.Get("/findings", h.handleFindings)
			r.Get("/error-report", h.handleErrorReport)
			r.Get("/events", h.handleEvents)
			r.Get("/ws", h.handleWebSocket)
		})
	})
	r.Get("/templates", h.handleEntityTypes)
	r.Get("/templates/{entityType}", h.handleTemplate)
}

type batchView struct {
	domain.Batch
	ErrorReportURL *string `json:"error_report_url,omitempty"`
}

func newBatchView(batch domain.Batch) batchView {
	view := batchView{Batch: batch}
	if batch.HasReport() {
		url := fmt.Sprintf("/api/batches/%s/error-report", batch.ID)
		view.ErrorReportURL = &url
	}
	return view
}

type page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	orgID, ok := auth.OrganizationIDFromContext(r.Context())
	if !ok {
		writeError(w, ErrOrganizationRequired)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.service.maxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, ErrFileTooLarge)
			return
		}
		writeErrorMessage(w, http.StatusBadRequest, "invalid_form", fmt.Sprintf("invalid form data: %v", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "file_required", fmt.Sprintf("file required: %v", err))
		return
	}
	defer file.Close()
	if header.Size > h.service.maxFileSize {
		writeError(w, ErrFileTooLarge)
		return
	}

	batch, err := h.service.Upload(r.Context(), UploadRequest{
		OrganizationID: orgID,
		UploadedBy:     auth.UploaderIDFromContext(r.Context()),
		EntityType:     strings.TrimSpace(r.FormValue("entityType")),
		FileName:       header.Filename,
		Data:           file,
	})
	if err != nil {
		h.logError(r, "upload rejected", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newBatchView(batch))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	orgID, ok := auth.OrganizationIDFromContext(r.Context())
	if !ok {
		writeError(w, ErrOrganizationRequired)
		return
	}
	limit, offset, err := pagination(r)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid_pagination", err.Error())
		return
	}
	batches, total, err := h.service.History(r.Context(), orgID, limit, offset)
	if err != nil {
		h.logError(r, "history failed", err)
		writeError(w, err)
		return
	}
	items := make([]batchView, len(batches))
	for i, batch := range batches {
		items[i] = newBatchView(batch)
	}
	writeJSON(w, http.StatusOK, page[batchView]{Items: items, Total: total, Limit: limit, Offset: offset})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	batch, ok := h.loadBatch(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newBatchView(batch))
}

func (h *Handler) handleFindings(w http.ResponseWriter, r *http.Request) {
	batch, ok := h.loadBatch(w, r)
	if !ok {
		return
	}
	limit, offset, err := pagination(r)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid_pagination", err.Error())
		return
	}
	filter := domain.FindingFilter{Sheet: strings.TrimSpace(r.URL.Query().Get("sheet"))}
	if raw := strings.TrimSpace(r.URL.Query().Get("severity")); raw != "" {
		severity, valid := domain.ParseSeverity(strings.ToLower(raw))
		if !valid {
			writeErrorMessage(w, http.StatusBadRequest, "invalid_severity", fmt.Sprintf("unknown severity %q", raw))
			return
		}
		filter.Severity = severity
	}

	findings, total, err := h.service.Findings(r.Context(), batch.ID, filter, limit, offset)
	if err != nil {
		h.logError(r, "findings failed", err)
		writeError(w, err)
		return
	}
	if findings == nil {
		findings = []domain.Finding{}
	}
	writeJSON(w, http.StatusOK, page[domain.Finding]{Items: findings, Total: total, Limit: limit, Offset: offset})
}

func (h *Handler) handleErrorReport(w http.ResponseWriter, r *http.Request) {
	batch, ok := h.loadBatch(w, r)
	if !ok {
		return
	}
	payload, name, err := h.service.ErrorReport(r.Context(), batch.ID)
	if err != nil {
		h.logError(r, "error report failed", err)
		writeError(w, err)
		return
	}
	writeFile(w, name, payload)
}

func (h *Handler) handleTemplate(w http.ResponseWriter, r *http.Request) {
	payload, name, err := h.service.Template(chi.URLParam(r, "entityType"))
	if err != nil {
		h.logError(r, "template failed", err)
		writeError(w, err)
		return
	}
	writeFile(w, name, payload)
}

func (h *Handler) handleEntityTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"entityTypes": h.service.EntityTypes()})
}

// loadBatch resolves the {batchID} parameter and enforces the organization scope.
func (h *Handler) loadBatch(w http.ResponseWriter, r *http.Request) (domain.Batch, bool) {
	batchID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "batchID")))
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid_batch_id", fmt.Sprintf("invalid batch identifier: %v", err))
		return domain.Batch{}, false
	}
	batch, err := h.service.Status(r.Context(), batchID)
	if err != nil {
		writeError(w, err)
		return domain.Batch{}, false
	}
	if err := auth.EnforceOrganizationScope(r.Context(), batch.OrganizationID); err != nil {
		writeErrorMessage(w, http.StatusForbidden, "forbidden", err.Error())
		return domain.Batch{}, false
	}
	return batch, true
}

func (h *Handler) logError(r *http.Request, msg string, err error) {
	if status, _ := classify(err); status < http.StatusInternalServerError {
		return
	}
	logging.FromContext(r.Context(), h.logger).Error(msg, zap.Error(err))
}

func pagination(r *http.Request) (int, int, error) {
	limit, offset := defaultPageSize, 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			return 0, 0, fmt.Errorf("limit must be a positive integer")
		}
		limit = min(value, maxPageSize)
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
		offset = value
	}
	return limit, offset, nil
}

// classify maps service errors to an HTTP status and a stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrOrganizationRequired):
		return http.StatusBadRequest, "organization_required"
	case errors.Is(err, schema.ErrUnknownEntityType):
		return http.StatusBadRequest, "unknown_entity_type"
	case errors.Is(err, ErrEmptyFile):
		return http.StatusBadRequest, "empty_file"
	case errors.Is(err, ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, "unsupported_format"
	case errors.Is(err, ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "file_too_large"
	case errors.Is(err, repository.ErrBatchNotFound):
		return http.StatusNotFound, "batch_not_found"
	case errors.Is(err, ErrReportNotAvailable):
		return http.StatusNotFound, "report_not_available"
	case errors.Is(err, template.ErrTemplateGeneration):
		return http.StatusInternalServerError, "template_generation_failed"
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	writeErrorMessage(w, status, code, message)
}

func writeErrorMessage(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func writeFile(w http.ResponseWriter, name string, payload []byte) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
