package daemon

import (
	"context"
	"sync/atomic"

	"github.com/Aman-CERP/fmindex/internal/router"
)

// RouterHandler serves queries through a router.
type RouterHandler struct {
	router  *router.Router
	queries atomic.Int64
}

// NewRouterHandler creates a handler for r.
func NewRouterHandler(r *router.Router) *RouterHandler {
	return &RouterHandler{router: r}
}

// HandleQuery dispatches one query.
func (h *RouterHandler) HandleQuery(ctx context.Context, params QueryParams) QueryResult {
	h.queries.Add(1)
	return h.router.Dispatch(ctx, params)
}

// GetStatus reports the served indexes.
func (h *RouterHandler) GetStatus() StatusResult {
	return StatusResult{
		Indexes: h.router.Registry().Names(),
		Queries: h.queries.Load(),
	}
}
