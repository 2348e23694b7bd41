package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/order-parser/internal/export"
	"github.com/sells-group/order-parser/internal/model"
	"github.com/sells-group/order-parser/internal/pipeline"
	"github.com/sells-group/order-parser/internal/store"
	"github.com/sells-group/order-parser/internal/workflow"
)

var servePort int

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		a := &api{
			runner:    env.Runner,
			store:     env.Store,
			maxUpload: cfg.Server.MaxUploadMB << 20,
		}

		// Async parsing is optional; the API still serves without Temporal.
		if cfg.Temporal.HostPort != "" {
			tc, dialErr := workflow.Dial(cfg.Temporal)
			if dialErr != nil {
				zap.L().Warn("temporal unavailable, async parsing disabled", zap.Error(dialErr))
			} else {
				defer tc.Close()
				a.starter = workflow.NewStarter(tc, cfg.Temporal.TaskQueue)
			}
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(a, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// parseRunner is the part of the pipeline runner the API calls.
type parseRunner interface {
	Run(ctx context.Context, in model.ParseInput) (*model.Output, error)
	Detect(ctx context.Context, in model.ParseInput) (pipeline.DetectionResult, error)
	Preview(ctx context.Context, in model.ParseInput) (*pipeline.Preview, error)
}

type asyncStarter interface {
	Start(ctx context.Context, req workflow.ParseRequest) (workflowID, runID string, err error)
}

type apiStore interface {
	store.ModelStore
	store.LogStore
	store.DocumentStore
}

// api holds the handlers' collaborators. starter is nil when Temporal is
// not configured.
type api struct {
	runner    parseRunner
	store     apiStore
	starter   asyncStarter
	maxUpload int64
}

var _ asyncStarter = (*workflow.Starter)(nil)

// buildRouter mounts every route on a chi router.
func buildRouter(a *api, origins []string) http.Handler {
	if a.maxUpload <= 0 {
		a.maxUpload = 20 << 20
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Post("/parse", a.handleParse)
	r.Post("/parse/text", a.handleParseText)
	r.Post("/parse/async", a.handleParseAsync)

	r.Route("/models", func(r chi.Router) {
		r.Get("/", a.handleListModels)
		r.Post("/", a.handleCreateModel)
		r.Post("/detect", a.handleDetect)
		r.Post("/detect/text", a.handleDetectText)
		r.Post("/preview", a.handlePreview)
		r.Post("/preview/text", a.handlePreviewText)
		r.Get("/{name}", a.handleGetModel)
		r.Put("/{name}", a.handleUpdateModel)
		r.Post("/{name}/activate", a.handleSetActive(true))
		r.Post("/{name}/deactivate", a.handleSetActive(false))
		r.Get("/{name}/versions", a.handleListVersions)
	})

	r.Route("/logs", func(r chi.Router) {
		r.Get("/", a.handleListLogs)
		r.Get("/{id}", a.handleGetLog)
	})

	r.Route("/documents/{id}/parsed", func(r chi.Router) {
		r.Get("/", a.handleGetParsed)
		r.Get("/download", a.handleDownloadParsed)
		r.Get("/xlsx", a.handleParsedXLSX)
	})

	return r
}

// --- responses ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// requestError is a client error with the status and detail to report.
type requestError struct {
	status int
	detail string
}

func (e *requestError) Error() string { return e.detail }

func badRequest(detail string) error {
	return &requestError{status: http.StatusBadRequest, detail: detail}
}

func unprocessable(detail string) error {
	return &requestError{status: http.StatusUnprocessableEntity, detail: detail}
}

// writeError reports client errors as they are and everything else as a
// 500 prefixed with action.
func writeError(w http.ResponseWriter, r *http.Request, action string, err error) {
	var re *requestError
	if errors.As(err, &re) {
		writeDetail(w, re.status, re.detail)
		return
	}
	zap.L().Error("api: "+strings.ToLower(action)+" failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeDetail(w, http.StatusInternalServerError, action+": "+err.Error())
}

// --- input ---

const (
	msgFileOrText   = "Either a PDF file or text must be provided"
	msgTextRequired = "Text content is required"
	msgOnlyPDF      = "Only PDF files are supported"
)

func (a *api) baseInput(r *http.Request) model.ParseInput {
	return model.ParseInput{
		ModelOverride: r.URL.Query().Get("model"),
		CorrelationID: middleware.GetReqID(r.Context()),
		TriggeredBy:   "api",
	}
}

// readForm reads a multipart "file" upload or, failing that, the textField
// form value.
func (a *api) readForm(w http.ResponseWriter, r *http.Request, textField string) (model.ParseInput, error) {
	in := a.baseInput(r)
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload)
	if err := r.ParseMultipartForm(a.maxUpload); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return in, badRequest("Invalid form data")
	}

	f, hdr, err := r.FormFile("file")
	if err == nil {
		defer f.Close() //nolint:errcheck
		if !strings.EqualFold(filepath.Ext(hdr.Filename), ".pdf") {
			return in, badRequest(msgOnlyPDF)
		}
		data, readErr := io.ReadAll(f)
		if readErr != nil {
			return in, badRequest("Invalid form data")
		}
		in.InputType = model.InputPDF
		in.Raw = data
		in.SourceName = hdr.Filename
		return in, nil
	}

	if text := r.FormValue(textField); strings.TrimSpace(text) != "" {
		in.InputType = model.InputText
		in.Raw = []byte(text)
		return in, nil
	}
	return in, badRequest(msgFileOrText)
}

// readText reads a JSON {"text": ...} body.
func (a *api) readText(w http.ResponseWriter, r *http.Request, emptyDetail string) (model.ParseInput, error) {
	in := a.baseInput(r)
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, a.maxUpload)).Decode(&req); err != nil {
		return in, unprocessable("Invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return in, badRequest(emptyDetail)
	}
	in.InputType = model.InputText
	in.Raw = []byte(req.Text)
	return in, nil
}

// readAny accepts either a JSON text body or a multipart form.
func (a *api) readAny(w http.ResponseWriter, r *http.Request) (model.ParseInput, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return a.readText(w, r, msgFileOrText)
	}
	return a.readForm(w, r, "text")
}

// --- parse ---

func (a *api) handleParse(w http.ResponseWriter, r *http.Request) {
	in, err := a.readAny(w, r)
	if err != nil {
		writeError(w, r, "Error processing order", err)
		return
	}
	a.run(w, r, in, "Error processing order")
}

func (a *api) handleParseText(w http.ResponseWriter, r *http.Request) {
	in, err := a.readText(w, r, msgTextRequired)
	if err != nil {
		writeError(w, r, "Error processing text", err)
		return
	}
	a.run(w, r, in, "Error processing text")
}

func (a *api) run(w http.ResponseWriter, r *http.Request, in model.ParseInput, action string) {
	out, err := a.runner.Run(r.Context(), in)
	if err != nil {
		writeError(w, r, action, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) handleParseAsync(w http.ResponseWriter, r *http.Request) {
	if a.starter == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Async parsing is not configured")
		return
	}
	in, err := a.readAny(w, r)
	if err != nil {
		writeError(w, r, "Error starting workflow", err)
		return
	}

	docID := uuid.NewString()
	wid, rid, err := a.starter.Start(r.Context(), workflow.ParseRequest{
		InputType:     in.InputType,
		Raw:           in.Raw,
		SourceName:    in.SourceName,
		ModelOverride: in.ModelOverride,
		DocumentID:    docID,
		CorrelationID: in.CorrelationID,
	})
	if err != nil {
		writeError(w, r, "Error starting workflow", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"workflow_id": wid,
		"run_id":      rid,
		"document_id": docID,
	})
}

// --- models ---

func hasVersion(m *model.ParserModel) bool { return m.CurrentVersion != nil }

func (a *api) writeModel(w http.ResponseWriter, m *model.ParserModel) {
	if m == nil {
		writeDetail(w, http.StatusNotFound, "Model not found")
		return
	}
	if !hasVersion(m) {
		writeDetail(w, http.StatusInternalServerError, "Model has no version")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *api) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := a.store.ListModels(r.Context())
	if err != nil {
		writeError(w, r, "Error listing models", err)
		return
	}
	for i := range models {
		if !hasVersion(&models[i]) {
			writeDetail(w, http.StatusInternalServerError, "Model has no version")
			return
		}
	}
	if models == nil {
		models = []model.ParserModel{}
	}
	writeJSON(w, http.StatusOK, models)
}

func (a *api) handleGetModel(w http.ResponseWriter, r *http.Request) {
	m, err := a.store.GetModel(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, "Error loading model", err)
		return
	}
	a.writeModel(w, m)
}

func (a *api) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	var in store.ModelInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if strings.TrimSpace(in.Name) == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "Model name is required")
		return
	}

	existing, err := a.store.GetModel(r.Context(), in.Name)
	if err != nil {
		writeError(w, r, "Error creating model", err)
		return
	}
	if existing != nil {
		writeDetail(w, http.StatusConflict, "Model already exists")
		return
	}

	m, err := a.store.CreateModel(r.Context(), in)
	if err != nil {
		writeError(w, r, "Error creating model", err)
		return
	}
	a.writeModel(w, m)
}

func (a *api) handleUpdateModel(w http.ResponseWriter, r *http.Request) {
	var upd store.ModelUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	m, err := a.store.UpdateModel(r.Context(), chi.URLParam(r, "name"), upd)
	if err != nil {
		writeError(w, r, "Error updating model", err)
		return
	}
	a.writeModel(w, m)
}

func (a *api) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := a.store.SetActive(r.Context(), chi.URLParam(r, "name"), active)
		if err != nil {
			writeError(w, r, "Error updating model", err)
			return
		}
		a.writeModel(w, m)
	}
}

func (a *api) handleListVersions(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	m, err := a.store.GetModel(r.Context(), name)
	if err != nil {
		writeError(w, r, "Error listing versions", err)
		return
	}
	if m == nil {
		writeDetail(w, http.StatusNotFound, "Model not found")
		return
	}
	versions, err := a.store.ListVersions(r.Context(), name)
	if err != nil {
		writeError(w, r, "Error listing versions", err)
		return
	}
	if versions == nil {
		versions = []model.ParserModelVersion{}
	}
	writeJSON(w, http.StatusOK, versions)
}

func (a *api) handleDetect(w http.ResponseWriter, r *http.Request) {
	in, err := a.readForm(w, r, "text_form")
	if err != nil {
		writeError(w, r, "Error detecting model", err)
		return
	}
	a.detect(w, r, in)
}

func (a *api) handleDetectText(w http.ResponseWriter, r *http.Request) {
	in, err := a.readText(w, r, msgTextRequired)
	if err != nil {
		writeError(w, r, "Error detecting model", err)
		return
	}
	a.detect(w, r, in)
}

func (a *api) detect(w http.ResponseWriter, r *http.Request, in model.ParseInput) {
	res, err := a.runner.Detect(r.Context(), in)
	if err != nil {
		writeError(w, r, "Error detecting model", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) handlePreview(w http.ResponseWriter, r *http.Request) {
	in, err := a.readForm(w, r, "text_form")
	if err != nil {
		writeError(w, r, "Error previewing document", err)
		return
	}
	a.preview(w, r, in)
}

func (a *api) handlePreviewText(w http.ResponseWriter, r *http.Request) {
	in, err := a.readText(w, r, msgTextRequired)
	if err != nil {
		writeError(w, r, "Error previewing document", err)
		return
	}
	a.preview(w, r, in)
}

func (a *api) preview(w http.ResponseWriter, r *http.Request, in model.ParseInput) {
	p, err := a.runner.Preview(r.Context(), in)
	if err != nil {
		writeError(w, r, "Error previewing document", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- logs ---

// parseLogFilter reads the /logs query string. Dates take RFC 3339 or
// YYYY-MM-DD.
func parseLogFilter(q map[string][]string) (store.LogFilter, error) {
	get := func(k string) string {
		if v := q[k]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}

	f := store.LogFilter{
		Status:      get("status"),
		ModelName:   get("model"),
		Filename:    get("filename"),
		CompanyName: get("company"),
		Limit:       store.DefaultLogLimit,
	}

	for _, d := range []struct {
		key string
		dst **time.Time
	}{{"date_from", &f.From}, {"date_to", &f.To}} {
		raw := get(d.key)
		if raw == "" {
			continue
		}
		t, err := parseDate(raw)
		if err != nil {
			return f, unprocessable("Invalid " + d.key)
		}
		*d.dst = &t
	}

	if raw := get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > store.MaxLogLimit {
			return f, unprocessable(fmt.Sprintf("limit must be between 1 and %d", store.MaxLogLimit))
		}
		f.Limit = n
	}
	if raw := get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, unprocessable("offset must be zero or greater")
		}
		f.Offset = n
	}
	return f, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

func (a *api) handleListLogs(w http.ResponseWriter, r *http.Request) {
	f, err := parseLogFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, "Error listing logs", err)
		return
	}
	logs, err := a.store.ListLogs(r.Context(), f)
	if err != nil {
		writeError(w, r, "Error listing logs", err)
		return
	}
	if logs == nil {
		logs = []model.ProcessingLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (a *api) handleGetLog(w http.ResponseWriter, r *http.Request) {
	l, err := a.store.GetLog(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "Error loading log", err)
		return
	}
	if l == nil {
		writeDetail(w, http.StatusNotFound, "Log not found")
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// --- documents ---

func (a *api) parsedDocument(w http.ResponseWriter, r *http.Request) (*model.ParsedDocument, bool) {
	doc, err := a.store.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "Error loading document", err)
		return nil, false
	}
	if doc == nil {
		writeDetail(w, http.StatusNotFound, "Parsed document not found")
		return nil, false
	}
	return doc, true
}

func (a *api) handleGetParsed(w http.ResponseWriter, r *http.Request) {
	doc, ok := a.parsedDocument(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Canonical)
}

func (a *api) handleDownloadParsed(w http.ResponseWriter, r *http.Request) {
	doc, ok := a.parsedDocument(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, doc.Canonical, "", "  "); err != nil {
		writeError(w, r, "Error rendering document", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename="+doc.DocumentID+".json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (a *api) handleParsedXLSX(w http.ResponseWriter, r *http.Request) {
	doc, ok := a.parsedDocument(w, r)
	if !ok {
		return
	}
	c, err := export.Decode(doc.Canonical)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Document is not in the canonical format")
		return
	}
	var buf bytes.Buffer
	if err := export.Write(&buf, c); err != nil {
		writeError(w, r, "Error exporting document", err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+doc.DocumentID+".xlsx")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
