package server

import (
	"context"
	"crypto/sha1" //nolint:gosec // ETag fingerprint, not a security boundary
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/chainscope/txgate/internal/cache"
	"github.com/chainscope/txgate/internal/circuitbreaker"
	"github.com/chainscope/txgate/internal/middleware"
	"github.com/chainscope/txgate/internal/observability"
	"github.com/chainscope/txgate/internal/storage"
)

// listResponse is the wire shape of a transaction page.
type listResponse struct {
	Items []storage.Transaction `json:"items"`
	Page  pageMeta              `json:"page"`
	Sort  sortMeta              `json:"sort"`
}

type pageMeta struct {
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
	Total  int64 `json:"total"`
}

type sortMeta struct {
	By    string `json:"by"`
	Order string `json:"order"`
}

type txHandlers struct {
	store   storage.Store
	cache   *cache.AdaptiveCache
	breaker *circuitbreaker.CircuitBreaker
	logger  observability.Logger
}

func newTxHandlers(store storage.Store, c *cache.AdaptiveCache, breaker *circuitbreaker.CircuitBreaker, logger observability.Logger) *txHandlers {
	return &txHandlers{store: store, cache: c, breaker: breaker, logger: logger}
}

// filterFromQuery builds and normalizes a ListFilter from request query
// parameters. Unknown sort fields and malformed slots surface as
// ErrInvalidFilter so the handler can answer 400.
func filterFromQuery(c *gin.Context) (*storage.ListFilter, error) {
	f := &storage.ListFilter{
		Signature: c.Query("signature"),
		From:      c.Query("from"),
		To:        c.Query("to"),
		ProgramID: c.Query("program_id"),
		SortBy:    c.Query("sort_by"),
		Order:     c.Query("order"),
	}

	for _, q := range []struct {
		name string
		dst  *uint64
	}{
		{"slot_from", &f.SlotFrom},
		{"slot_to", &f.SlotTo},
	} {
		raw := c.Query(q.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %q is not a slot number", storage.ErrInvalidFilter, q.name, raw)
		}
		*q.dst = v
	}

	for _, q := range []struct {
		name string
		dst  *int
	}{
		{"limit", &f.Limit},
		{"offset", &f.Offset},
	} {
		raw := c.Query(q.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %q is not an integer", storage.ErrInvalidFilter, q.name, raw)
		}
		*q.dst = v
	}

	if err := f.Normalize(); err != nil {
		return nil, err
	}
	return f, nil
}

func (h *txHandlers) list(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "invalid_filter",
			"reason": err.Error(),
		})
		return
	}

	key := cache.RequestKey(c.Request.URL.Path, c.Request.URL.Query())
	body, err := h.cache.GetOrCompute(c.Request.Context(), key, func(ctx context.Context) ([]byte, error) {
		var page *storage.Page
		execErr := h.breaker.Execute(ctx, func(ctx context.Context) error {
			var listErr error
			page, listErr = h.store.List(ctx, filter)
			return listErr
		})
		if execErr != nil {
			return nil, execErr
		}
		return json.Marshal(listResponse{
			Items: page.Items,
			Page:  pageMeta{Limit: page.Limit, Offset: page.Offset, Total: page.Total},
			Sort:  sortMeta{By: filter.SortBy, Order: filter.Order},
		})
	})
	if err != nil {
		h.writeComputeError(c, err)
		return
	}

	writeJSONWithETag(c, body)
}

func (h *txHandlers) get(c *gin.Context) {
	signature := c.Param("signature")

	// The key matches what ingestion invalidates when this transaction is
	// re-written, so readers never see a stale detail past the event.
	key := cache.RequestKey(c.Request.URL.Path, nil)
	body, err := h.cache.GetOrCompute(c.Request.Context(), key, func(ctx context.Context) ([]byte, error) {
		var tx *storage.Transaction
		execErr := h.breaker.Execute(ctx, func(ctx context.Context) error {
			var getErr error
			tx, getErr = h.store.GetBySignature(ctx, signature)
			return getErr
		})
		if execErr != nil {
			return nil, execErr
		}
		return json.Marshal(tx)
	})
	if err != nil {
		h.writeComputeError(c, err)
		return
	}

	writeJSONWithETag(c, body)
}

// writeComputeError maps storage and breaker errors onto the response-code
// contract: 404 unknown signature, 503 open circuit with Retry-After, 500
// for the rest.
func (h *txHandlers) writeComputeError(c *gin.Context, err error) {
	var unavailable *circuitbreaker.DependencyUnavailableError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, storage.ErrInvalidFilter):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_filter", "reason": err.Error()})
	case errors.As(err, &unavailable):
		retryAfter := int(math.Ceil(unavailable.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header(middleware.HeaderRetryAfter, strconv.Itoa(retryAfter))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":      "dependency_unavailable",
			"dependency": unavailable.Dependency,
		})
	case errors.Is(err, circuitbreaker.ErrTooManyRequests):
		c.Header(middleware.HeaderRetryAfter, "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dependency_unavailable"})
	case errors.Is(err, context.Canceled):
		c.Abort()
	default:
		h.logger.Error("transaction query failed", observability.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
	}
}

// writeJSONWithETag writes body with a content-derived ETag and honors
// If-None-Match with 304.
func writeJSONWithETag(c *gin.Context, body []byte) {
	sum := sha1.Sum(body) //nolint:gosec
	etag := `"` + hex.EncodeToString(sum[:]) + `"`
	c.Header("ETag", etag)

	if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
		c.Status(http.StatusNotModified)
		return
	}

	c.Data(http.StatusOK, middleware.ContentTypeJSON, body)
}
