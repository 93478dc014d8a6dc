package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/ragd/internal/models"
	"github.com/hyperjump/ragd/internal/search"
	"github.com/hyperjump/ragd/internal/storage"
)

const maxBodyBytes = 4 << 20

// ragResponse reports available=false with no other fields when retrieval is unavailable.
type ragResponse struct {
	Available bool `json:"available"`
	*models.RetrievalResult
}

func (s *Server) handleRAGQuery(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	var query models.RAGQuery
	if !s.decode(w, r, &query) {
		return
	}
	s.logger.Debug("rag query request",
		zap.String("org_id", orgID),
		zap.Int("top_k", query.TopK),
		zap.Int("document_ids", len(query.DocumentIDs)),
		zap.Bool("customer_scoped", query.CustomerID != ""))

	res, err := s.engine.RAGQuery(r.Context(), orgID, query)
	if err != nil {
		s.respondEngineError(w, "rag query failed", orgID, err)
		return
	}
	s.respondJSON(w, http.StatusOK, ragResponse{Available: res != nil, RetrievalResult: res})
}

func (s *Server) handleFindSimilar(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	var query models.SimilarQuery
	if !s.decode(w, r, &query) {
		return
	}
	results, err := s.engine.FindSimilarChunks(r.Context(), orgID, query)
	if err != nil {
		s.respondEngineError(w, "similar chunks failed", orgID, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	s.engine.InvalidateEmbeddingCache(orgID)
	s.respondJSON(w, http.StatusOK, map[string]string{"organization_id": orgID, "status": "invalidated"})
}

func (s *Server) handleInvalidateAll(w http.ResponseWriter, r *http.Request) {
	s.engine.InvalidateAll()
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docCount, err := s.storage.CountDocuments(ctx, "")
	if err != nil {
		s.logger.Error("status: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	chunkCount, err := s.storage.CountChunks(ctx, "")
	if err != nil {
		s.logger.Error("status: count chunks failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	stats := s.engine.CacheStats()
	resp := map[string]interface{}{
		"documents":      docCount,
		"chunks":         chunkCount,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"cache": map[string]interface{}{
			"entries":     stats.Entries,
			"capacity":    stats.Capacity,
			"ttl_seconds": stats.TTL.Seconds(),
			"hits":        stats.Hits,
			"misses":      stats.Misses,
			"evictions":   stats.Evictions,
		},
	}
	configInfo := map[string]interface{}{
		"storage_driver": s.config.Storage.Driver,
		"top_k":          s.config.Retrieval.TopK,
		"min_score":      s.config.Retrieval.MinScoreOrDefault(),
	}
	if s.config.Storage.Driver == storage.DriverSQLite {
		configInfo["database_path"] = s.config.Storage.DatabasePath
		if size, err := storage.DatabaseSizeBytes(s.config.Storage.DatabasePath); err == nil {
			resp["database_size_bytes"] = size
		}
	}
	resp["config"] = configInfo
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) respondEngineError(w http.ResponseWriter, msg, orgID string, err error) {
	switch {
	case errors.Is(err, search.ErrInvalidQuery):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, search.ErrTimeout):
		s.logger.Warn(msg, zap.String("org_id", orgID), zap.Error(err))
		s.respondError(w, http.StatusGatewayTimeout, err.Error())
	default:
		s.logger.Error(msg, zap.String("org_id", orgID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
