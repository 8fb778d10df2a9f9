package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pagekeep/pagekeep/internal/cache"
	"github.com/pagekeep/pagekeep/internal/models"
)

// searchCachePrefix namespaces cached global search results so writers can
// invalidate them wholesale.
const searchCachePrefix = "search:"

// Searcher is the slice of the text store the search endpoints need.
type Searcher interface {
	SearchGlobal(ctx context.Context, query string) ([]models.SearchHit, error)
	SearchWithinDocument(ctx context.Context, documentID int64, query string, limit, offset int) (int, []models.PageHit, error)
}

type SearchHandler struct {
	texts Searcher
	cache *cache.Cache
	ttl   time.Duration
}

func NewSearchHandler(texts Searcher, c *cache.Cache, ttl time.Duration) *SearchHandler {
	return &SearchHandler{texts: texts, cache: c, ttl: ttl}
}

// Global searches every document in the library, best match first.
func (h *SearchHandler) Global(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	// An empty query is an empty result; not worth a cache round trip.
	if strings.TrimSpace(query) == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"hits": []models.SearchHit{}, "count": 0})
		return
	}

	key := searchCachePrefix + "global:" + query
	if h.cache != nil {
		var hits []models.SearchHit
		err := h.cache.Get(r.Context(), key, &hits)
		if err == nil {
			writeJSON(w, http.StatusOK, map[string]interface{}{"hits": hits, "count": len(hits)})
			return
		}
		if !errors.Is(err, redis.Nil) {
			slog.Debug("search cache read failed", "error", err)
		}
	}

	hits, err := h.texts.SearchGlobal(r.Context(), query)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if hits == nil {
		hits = []models.SearchHit{}
	}

	if h.cache != nil {
		if err := h.cache.Set(r.Context(), key, hits, h.ttl); err != nil {
			slog.Debug("search cache write failed", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"hits": hits, "count": len(hits)})
}

// WithinDocument searches one document's pages in reading order, paginated.
func (h *SearchHandler) WithinDocument(w http.ResponseWriter, r *http.Request) {
	id, err := parseDocumentID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid document ID"})
		return
	}

	query := r.URL.Query().Get("q")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	total, hits, err := h.texts.SearchWithinDocument(r.Context(), id, query, limit, offset)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if hits == nil {
		hits = []models.PageHit{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"document_id": id,
		"total":       total,
		"hits":        hits,
	})
}
