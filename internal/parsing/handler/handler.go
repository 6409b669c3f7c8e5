package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/parsing"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/parsing/cache"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/parsing/validator"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/logger"
)

// maxBodyBytes bounds a request body; score tables are large.
const maxBodyBytes = 64 << 20

type Handler struct {
	service *parsing.Service
	cache   *cache.ParseCache
	limits  validator.Limits
	logger  *slog.Logger
}

// New builds the parse API. parseCache may be nil to disable caching.
func New(service *parsing.Service, parseCache *cache.ParseCache, cfg config.ParsingConfig) *Handler {
	return &Handler{
		service: service,
		cache:   parseCache,
		limits: validator.Limits{
			MaxTokens:      cfg.MaxTokens,
			MaxBatchSize:   cfg.MaxBatchSize,
			VocabularySize: service.VocabularySize(),
		},
		logger: logger.WithComponent("parse-handler"),
	}
}

// Register mounts the parse routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/parse", h.Parse)
	mux.HandleFunc("POST /api/v1/parse/batch", h.ParseBatch)
	mux.HandleFunc("POST /api/v1/sanity", h.Sanity)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Parse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req parsing.ParseRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validator.ValidateParseRequest(&req, h.limits); err != nil {
		h.writeValidation(w, err)
		return
	}

	var resp *parsing.ParseResponse
	var err error
	cacheHit := false
	if h.cache != nil {
		resp, cacheHit, err = h.cache.GetOrCompute(ctx, req, func() (*parsing.ParseResponse, error) {
			return h.service.Parse(ctx, req)
		})
		if cacheHit {
			h.service.RecordCached(ctx, resp)
		}
	} else {
		resp, err = h.service.Parse(ctx, req)
	}
	if err != nil {
		h.fail(w, r, "parse failed", err)
		return
	}

	log.Info("sentence parsed",
		"tokens", len(req.Sentence),
		"status", resp.Status,
		"derivations", len(resp.Derivations),
		"cache_hit", cacheHit,
		"elapsed_ms", resp.ElapsedMs,
	)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ParseBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req parsing.BatchParseRequest
	if !h.decode(w, r, &req) {
		return
	}
	if h.limits.MaxBatchSize > 0 && len(req.Sentences) > h.limits.MaxBatchSize {
		h.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("batch of %d sentences exceeds the limit of %d", len(req.Sentences), h.limits.MaxBatchSize))
		return
	}
	if err := validator.ValidateBatch(&req, h.limits); err != nil {
		h.writeValidation(w, err)
		return
	}

	results := h.service.ParseBatch(ctx, req.Sentences)
	resp := parsing.BatchParseResponse{
		Results:   results,
		ElapsedMs: time.Since(start).Milliseconds(),
	}
	logger.FromContext(ctx).Info("batch parsed",
		"sentences", len(results),
		"elapsed_ms", resp.ElapsedMs,
	)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Sanity(w http.ResponseWriter, r *http.Request) {
	var req parsing.SanityRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validator.ValidateSanityRequest(&req, h.limits); err != nil {
		h.writeValidation(w, err)
		return
	}
	resp, err := h.service.Sanity(r.Context(), req)
	if err != nil {
		h.fail(w, r, "sanity check failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":        hits,
		"misses":      misses,
		"total":       total,
		"hit_rate":    fmt.Sprintf("%.1f%%", hitRate),
		"fingerprint": h.service.Fingerprint(),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := apperrors.HTTPStatusCode(err)
	logger.FromContext(r.Context()).Error(msg, "error", err, "status_code", status)

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		h.writeError(w, status, appErr.Message)
		return
	}
	h.writeError(w, status, msg)
}

func (h *Handler) writeValidation(w http.ResponseWriter, err error) {
	var validationErr *validator.ValidationError
	if errors.As(err, &validationErr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": validationErr.Fields,
		})
		return
	}
	h.writeError(w, http.StatusBadRequest, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
