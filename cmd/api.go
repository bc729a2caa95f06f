package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/scrapeease/scrapeease/internal/export"
	"github.com/scrapeease/scrapeease/internal/fetcher"
	"github.com/scrapeease/scrapeease/internal/job"
	"github.com/scrapeease/scrapeease/internal/model"
	"github.com/scrapeease/scrapeease/internal/store"
)

type api struct {
	ctrl   *job.Controller
	client *fetcher.Client
	files  *export.Files
}

func newRouter(ctrl *job.Controller, client *fetcher.Client, files *export.Files, origins []string) http.Handler {
	a := &api{ctrl: ctrl, client: client, files: files}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", a.health)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/validate-url", a.validateURL)
		r.Post("/detect-structure", a.detectStructure)
		r.Post("/scrape", a.submitScrape)
		r.Route("/scrape/{id}", func(r chi.Router) {
			r.Get("/status", a.scrapeStatus)
			r.Get("/result", a.scrapeResult)
			r.Get("/preview", a.scrapePreview)
			r.Get("/download", a.scrapeDownload)
			r.Post("/cancel", a.scrapeCancel)
		})
		r.Delete("/scrape/{id}", a.scrapeDelete)
		r.Get("/jobs", a.listJobs)
		r.Get("/history", a.history)
	})
	return r
}

type urlRequest struct {
	URL string `json:"url"`
}

type scrapeRequest struct {
	URL      string          `json:"url"`
	MaxPages int             `json:"max_pages"`
	Strategy *model.Strategy `json:"strategy,omitempty"`
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (a *api) validateURL(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := fetcher.ValidateURL(req.URL); err != nil {
		writeJSON(w, http.StatusOK, fetcher.ValidationReport{Valid: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, a.client.Validate(r.Context(), req.URL))
}

func (a *api) detectStructure(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if !decodeBody(w, r, &req) {
		return
	}
	strategies, err := a.ctrl.Detect(r.Context(), req.URL)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	resp := map[string]any{
		"url":        req.URL,
		"strategies": strategies,
	}
	if len(strategies) > 0 {
		resp["recommended_strategy"] = strategies[0]
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) submitScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := a.ctrl.Submit(r.Context(), job.SubmitRequest{
		URL:      req.URL,
		MaxPages: req.MaxPages,
		Override: req.Strategy,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"scrape_id": id,
		"status":    string(model.JobStatePending),
	})
}

func (a *api) scrapeStatus(w http.ResponseWriter, r *http.Request) {
	j, err := a.ctrl.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, jobStatusBody(j))
}

func (a *api) scrapeResult(w http.ResponseWriter, r *http.Request) {
	j, err := a.ctrl.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if j.State == model.JobStateFailed {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":     false,
			"scrape_id":   j.ID,
			"url":         j.URL,
			"fail_reason": j.FailReason,
			"error":       j.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"scrape_id":     j.ID,
		"url":           j.URL,
		"total_records": j.Dataset.TotalRecords,
		"columns":       j.Dataset.Columns,
		"column_types":  j.Dataset.ColumnTypes,
		"data":          j.Dataset.Rows,
		"provenance":    j.Dataset.Provenance,
		"warnings":      j.Warnings,
	})
}

func (a *api) scrapePreview(w http.ResponseWriter, r *http.Request) {
	j, err := a.ctrl.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if j.Dataset == nil {
		writeError(w, http.StatusNotFound, eris.New("no dataset for job"))
		return
	}
	limit := 10
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scrape_id":     j.ID,
		"columns":       j.Dataset.Columns,
		"total_records": j.Dataset.TotalRecords,
		"preview":       j.Dataset.Preview(limit),
	})
}

func (a *api) scrapeDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	path, err := a.files.Find(id, format)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.Header().Set("Content-Disposition", "attachment")
	http.ServeFile(w, r, path)
}

func (a *api) scrapeCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.ctrl.Cancel(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"scrape_id": id,
		"status":    "cancelling",
	})
}

func (a *api) scrapeDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.ctrl.Delete(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if _, err := a.files.Delete(id); err != nil {
		zap.L().Warn("delete export files", zap.String("scrape_id", id), zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.JobFilter{State: model.JobState(q.Get("state"))}
	if filter.State != "" && !filter.State.Valid() {
		writeError(w, http.StatusBadRequest, eris.Errorf("unknown state %q", filter.State))
		return
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		filter.Limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		filter.Offset = n
	}

	jobs, err := a.ctrl.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]map[string]any, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobStatusBody(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (a *api) history(w http.ResponseWriter, r *http.Request) {
	history, err := a.files.History()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if history == nil {
		history = []export.Metadata{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func jobStatusBody(j model.ScrapeJob) map[string]any {
	body := map[string]any{
		"scrape_id":  j.ID,
		"url":        j.URL,
		"status":     j.State,
		"created_at": j.CreatedAt.Format(time.RFC3339),
		"updated_at": j.UpdatedAt.Format(time.RFC3339),
	}
	if j.Strategy != nil {
		body["strategy"] = j.Strategy
	}
	if j.State == model.JobStateFailed {
		body["fail_reason"] = j.FailReason
		body["error"] = j.Error
	}
	if len(j.Warnings) > 0 {
		body["warnings"] = j.Warnings
	}
	return body
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, eris.Wrap(err, "decode request body"))
		return false
	}
	return true
}

func statusFor(err error) int {
	var vErr *fetcher.ValidationError
	var pErr *fetcher.PolicyError
	switch {
	case eris.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case eris.Is(err, job.ErrNotReady) || eris.Is(err, job.ErrTerminal):
		return http.StatusConflict
	case eris.Is(err, job.ErrInvalidOverride):
		return http.StatusBadRequest
	case errors.As(err, &vErr):
		return http.StatusBadRequest
	case errors.As(err, &pErr):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
