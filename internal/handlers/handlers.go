package handlers

import (
	"context"
	"embed"
	"encoding/base64"
	"errors"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/leafguard/internal/auth"
	"github.com/example/leafguard/internal/leaf"
	"github.com/example/leafguard/internal/logging"
	"github.com/example/leafguard/internal/session"
	"github.com/example/leafguard/internal/usecase"
)

const (
	// MaxUploadSize caps a single uploaded image.
	MaxUploadSize = 10 << 20
	// MaxBatchSize caps the whole multipart body of one stage request.
	MaxBatchSize = 64 << 20

	pageTemplate = "index.html.tmpl"
)

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
}

//go:embed templates/*.tmpl
var templateFS embed.FS

// Analyzer is the part of the analysis use case the HTTP layer needs.
type Analyzer interface {
	RunBatch(ctx context.Context, sessionID string, items []leaf.UploadedItem) *usecase.Batch
	GetHistorySummary(ctx context.Context) (*usecase.HistorySummary, error)
}

type handler struct {
	analyzer Analyzer
	sessions *session.Store
	logger   *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, analyzer Analyzer, sessions *session.Store, sessionMiddleware gin.HandlerFunc, logger *zap.Logger) {
	router.SetHTMLTemplate(template.Must(template.ParseFS(templateFS, "templates/*.tmpl")))

	h := &handler{analyzer: analyzer, sessions: sessions, logger: logger.Named("handlers")}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/", sessionMiddleware, h.page)

	api := router.Group("/api", sessionMiddleware)
	api.GET("/session", h.render)
	api.POST("/stage", h.stage)
	api.POST("/analyze", h.analyze)
	api.POST("/clear", h.clear)
	api.GET("/history/summary", h.historySummary)
}

type viewResponse struct {
	State     session.State `json:"state"`
	Items     []string      `json:"items"`
	WidgetKey string        `json:"widget_key"`
	Discard   bool          `json:"discard"`
}

type resultResponse struct {
	Index         int     `json:"index"`
	Name          string  `json:"name"`
	Status        string  `json:"status"`
	Label         string  `json:"label,omitempty"`
	DisplayLabel  string  `json:"display_label,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`
	ConfidencePct string  `json:"confidence_pct,omitempty"`
	ErrorKind     string  `json:"error_kind,omitempty"`
	Message       string  `json:"message,omitempty"`

	Preview template.URL `json:"-"`
}

type summaryResponse struct {
	Healthy  int `json:"healthy"`
	Diseased int `json:"diseased"`
	Failed   int `json:"failed"`
}

type batchResponse struct {
	BatchID string           `json:"batch_id"`
	Results []resultResponse `json:"results"`
	Summary summaryResponse  `json:"summary"`
}

type pageData struct {
	View   viewResponse
	Staged []stagedItem
	Batch  *batchResponse
	Error  string
}

type stagedItem struct {
	Name    string
	Preview template.URL
}

// previewURL inlines an uploaded image as a data URL. Bytes that do not sniff
// as JPEG or PNG get no preview.
func previewURL(data []byte) template.URL {
	ct := http.DetectContentType(data)
	if ct != "image/jpeg" && ct != "image/png" {
		return ""
	}
	return template.URL("data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(data))
}

// newPage runs one render cycle of wf and attaches previews of the staged list.
func newPage(wf *session.Workflow, batch *batchResponse, errMsg string) pageData {
	data := pageData{View: toView(wf.Render()), Batch: batch, Error: errMsg}
	for _, item := range wf.Snapshot() {
		data.Staged = append(data.Staged, stagedItem{Name: item.Name, Preview: previewURL(item.Data)})
	}
	return data
}

func toView(v session.View) viewResponse {
	return viewResponse{State: v.State, Items: v.Items, WidgetKey: v.WidgetKey, Discard: v.Discard}
}

func toBatchResponse(b *usecase.Batch) *batchResponse {
	resp := &batchResponse{
		BatchID: b.ID,
		Results: make([]resultResponse, len(b.Results)),
		Summary: summaryResponse{Healthy: b.Summary.Healthy, Diseased: b.Summary.Diseased, Failed: b.Summary.Failed},
	}
	for i, r := range b.Results {
		entry := resultResponse{Index: i, Name: r.Name()}
		switch v := r.(type) {
		case leaf.Verdict:
			entry.Status = "ok"
			entry.Label = string(v.Label)
			entry.DisplayLabel = v.Label.DisplayName()
			entry.Confidence = v.Confidence
			entry.ConfidencePct = v.ConfidencePercent()
		case leaf.Failure:
			entry.Status = "failed"
			entry.ErrorKind = string(v.Kind)
			entry.Message = v.Message
		}
		resp.Results[i] = entry
	}
	return resp
}

func wantsHTML(c *gin.Context) bool {
	return c.NegotiateFormat(gin.MIMEJSON, gin.MIMEHTML) == gin.MIMEHTML
}

func (h *handler) workflow(c *gin.Context) (string, *session.Workflow) {
	sessionID, _ := auth.GetSessionID(c.Request.Context())
	return sessionID, h.sessions.Get(sessionID)
}

func (h *handler) page(c *gin.Context) {
	_, wf := h.workflow(c)
	c.HTML(http.StatusOK, pageTemplate, newPage(wf, nil, ""))
}

func (h *handler) render(c *gin.Context) {
	_, wf := h.workflow(c)
	c.JSON(http.StatusOK, toView(wf.Render()))
}

func (h *handler) fail(c *gin.Context, status int, message string) {
	if wantsHTML(c) {
		_, wf := h.workflow(c)
		c.HTML(status, pageTemplate, newPage(wf, nil, message))
		return
	}
	c.JSON(status, gin.H{"error": message})
}

func (h *handler) stage(c *gin.Context) {
	sessionID, wf := h.workflow(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBatchSize)

	form, err := c.MultipartForm()
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			h.fail(c, http.StatusRequestEntityTooLarge, "upload exceeds the batch size limit")
			return
		}
		h.fail(c, http.StatusBadRequest, "expected a multipart form with files")
		return
	}

	var widgetKey string
	if keys := form.Value["widget_key"]; len(keys) > 0 {
		widgetKey = keys[0]
	}

	files := form.File["files"]
	items := make([]leaf.UploadedItem, 0, len(files))
	for _, fh := range files {
		if fh.Size > MaxUploadSize {
			h.fail(c, http.StatusRequestEntityTooLarge, fh.Filename+" exceeds the per-image size limit")
			return
		}
		if !allowedContentType(fh) {
			h.fail(c, http.StatusUnsupportedMediaType, fh.Filename+" is not a JPG or PNG image")
			return
		}
		data, err := readFile(fh)
		if err != nil {
			logging.WithOperation(h.logger, "handlers.stage", sessionID).Error("failed to read upload",
				zap.String("file", fh.Filename), zap.Error(err))
			h.fail(c, http.StatusInternalServerError, "failed to read "+fh.Filename)
			return
		}
		items = append(items, leaf.UploadedItem{Name: fh.Filename, Data: data})
	}

	state, err := wf.Stage(widgetKey, items)
	if errors.Is(err, session.ErrStaleWidget) {
		logging.WithOperation(h.logger, "handlers.stage", sessionID).Info("stale upload discarded", zap.Int("count", len(items)))
		if wantsHTML(c) {
			h.fail(c, http.StatusConflict, "Your previous selection was cleared, so those files were not staged. Choose the images again.")
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "state": state})
		return
	}

	logging.WithOperation(h.logger, "handlers.stage", sessionID).Info("files staged", zap.Int("count", len(items)))
	if wantsHTML(c) {
		c.Redirect(http.StatusSeeOther, "/")
		return
	}
	names := make([]string, len(items))
	for i, item := range items {
		names[i] = item.Name
	}
	c.JSON(http.StatusOK, gin.H{"state": state, "items": names})
}

func (h *handler) analyze(c *gin.Context) {
	sessionID, wf := h.workflow(c)

	items := wf.Snapshot()
	// A started analysis runs to completion even if the client goes away.
	batch := h.analyzer.RunBatch(context.WithoutCancel(c.Request.Context()), sessionID, items)
	resp := toBatchResponse(batch)

	if wantsHTML(c) {
		for i := range resp.Results {
			if i < len(items) {
				resp.Results[i].Preview = previewURL(items[i].Data)
			}
		}
		c.HTML(http.StatusOK, pageTemplate, newPage(wf, resp, ""))
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) clear(c *gin.Context) {
	sessionID, wf := h.workflow(c)
	state := wf.Clear()
	logging.WithOperation(h.logger, "handlers.clear", sessionID).Info("session cleared")

	if wantsHTML(c) {
		c.Redirect(http.StatusSeeOther, "/")
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *handler) historySummary(c *gin.Context) {
	summary, err := h.analyzer.GetHistorySummary(c.Request.Context())
	if errors.Is(err, usecase.ErrHistoryDisabled) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("failed to aggregate history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func allowedContentType(fh *multipart.FileHeader) bool {
	ct := strings.ToLower(strings.TrimSpace(fh.Header.Get("Content-Type")))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return allowedContentTypes[ct]
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}
