// Package router maps index names to query engines and dispatches typed
// query operations to them.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/fmindex/internal/engine"
	fmerrors "github.com/Aman-CERP/fmindex/internal/errors"
	"github.com/Aman-CERP/fmindex/internal/telemetry"
)

// Engine is the query surface of one index.
type Engine interface {
	Count(query []byte) engine.CountResult
	Find(query []byte) engine.FindResult
	Locate(query []byte, numOcc int) []engine.Location
	Reconstruct(query []byte, occurrence uint64, preText, postText int) (*engine.Window, error)
	GetDocByRank(shard int, rank uint64, needleLen, maxCtxLen int) (*engine.Document, error)
}

var _ Engine = (*engine.Engine)(nil)

// Registry is an immutable index name to engine mapping.
type Registry struct {
	engines map[string]Engine
	names   []string
}

// NewRegistry copies engines into a new Registry.
func NewRegistry(engines map[string]Engine) *Registry {
	r := &Registry{engines: make(map[string]Engine, len(engines))}
	for name, e := range engines {
		r.engines[name] = e
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r
}

// OpenRegistry opens one engine per index concurrently.
func OpenRegistry(ctx context.Context, indexes map[string][]engine.ShardConfig, opts engine.Options) (*Registry, error) {
	var mu sync.Mutex
	engines := make(map[string]Engine, len(indexes))
	g, ctx := errgroup.WithContext(ctx)
	for name, shards := range indexes {
		g.Go(func() error {
			e, err := engine.Open(ctx, shards, opts)
			if err != nil {
				return fmt.Errorf("index %q: %w", name, err)
			}
			mu.Lock()
			engines[name] = e
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_ = NewRegistry(engines).Close()
		return nil, err
	}
	return NewRegistry(engines), nil
}

// Lookup returns the engine serving name.
func (r *Registry) Lookup(name string) (Engine, bool) {
	e, ok := r.engines[name]
	return e, ok
}

// Names returns the index names in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Close closes every engine that holds resources.
func (r *Registry) Close() error {
	var errs []error
	for _, name := range r.names {
		if c, ok := r.engines[name].(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// Status is the outcome class of a dispatched request.
type Status int

const (
	StatusSuccess     Status = 200
	StatusClientError Status = 400
	StatusServerError Status = 500
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return telemetry.StatusSuccess
	case StatusClientError:
		return telemetry.StatusClientError
	default:
		return telemetry.StatusServerError
	}
}

// Request is one query against a named index.
type Request struct {
	Index     string `json:"index"`
	Operation string `json:"operation"`
	// Query must be a JSON string.
	Query  any             `json:"query"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the outcome of Dispatch.
type Response struct {
	Status    Status  `json:"status"`
	Result    any     `json:"result,omitempty"`
	Error     string  `json:"error,omitempty"`
	Code      string  `json:"code,omitempty"`
	LatencyMS float64 `json:"latency_ms"`
}

// Recorder receives one event per dispatched request.
type Recorder interface {
	Record(telemetry.QueryEvent)
}

// Option configures a Router.
type Option func(*Router)

// WithQueryLog appends one JSON line per request to w.
func WithQueryLog(w io.Writer) Option {
	return func(r *Router) {
		r.queryLog = w
	}
}

// WithRecorder reports every request to rec.
func WithRecorder(rec Recorder) Option {
	return func(r *Router) {
		r.recorder = rec
	}
}

// Router dispatches requests to the engines of a Registry.
type Router struct {
	registry *Registry
	queryLog io.Writer
	recorder Recorder

	logMu sync.Mutex
}

// New creates a Router over registry.
func New(registry *Registry, opts ...Option) *Router {
	r := &Router{registry: registry}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the router's registry.
func (r *Router) Registry() *Registry { return r.registry }

// Dispatch runs req. It never panics: engine failures become server
// errors and bad input becomes client errors.
func (r *Router) Dispatch(ctx context.Context, req Request) (resp Response) {
	start := time.Now()
	var count uint64

	defer func() {
		if p := recover(); p != nil {
			slog.Error("query_panic",
				slog.String("index", req.Index),
				slog.String("operation", req.Operation),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())))
			resp = serverError()
		}
		elapsed := time.Since(start)
		resp.LatencyMS = float64(elapsed.Nanoseconds()) / 1e6
		r.observe(req, resp, count, elapsed)
	}()

	if err := ctx.Err(); err != nil {
		return errorResponse(fmerrors.InternalError("request cancelled", err))
	}

	result, n, err := r.dispatch(req)
	if err != nil {
		return errorResponse(err)
	}
	count = n
	return Response{Status: StatusSuccess, Result: result}
}

func (r *Router) dispatch(req Request) (any, uint64, error) {
	eng, ok := r.registry.Lookup(req.Index)
	if !ok {
		return nil, 0, fmerrors.New(fmerrors.ErrCodeUnknownIndex,
			fmt.Sprintf("unknown index %q", req.Index), nil).
			WithDetail("index", req.Index)
	}
	op, err := ParseOperation(req.Operation)
	if err != nil {
		return nil, 0, err
	}
	q, ok := req.Query.(string)
	if !ok {
		return nil, 0, fmerrors.ValidationError(
			fmt.Sprintf("query must be a string, got %T", req.Query), nil)
	}
	query := []byte(q)

	switch op {
	case OpCount:
		res := eng.Count(query)
		return res, res.Count, nil

	case OpFind:
		res := eng.Find(query)
		return res, res.Count, nil

	case OpLocate:
		var p LocateParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, 0, err
		}
		if err := p.validate(); err != nil {
			return nil, 0, err
		}
		locs := eng.Locate(query, p.NumOcc)
		return locs, uint64(len(locs)), nil

	case OpReconstruct:
		var p ReconstructParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, 0, err
		}
		if err := p.validate(); err != nil {
			return nil, 0, err
		}
		w, err := eng.Reconstruct(query, p.Occurrence, p.PreText, p.PostText)
		if err != nil {
			return nil, 0, err
		}
		return w, 1, nil

	case OpGetDocByRank:
		var p GetDocByRankParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, 0, err
		}
		if p.NeedleLen == 0 {
			p.NeedleLen = len(query)
		}
		if err := p.validate(); err != nil {
			return nil, 0, err
		}
		doc, err := eng.GetDocByRank(p.Shard, p.Rank, p.NeedleLen, p.MaxCtxLen)
		if err != nil {
			return nil, 0, err
		}
		doc.Spans = engine.Highlight(doc.Text, q)
		return doc, 1, nil
	}
	return nil, 0, fmerrors.InternalError("unhandled operation "+op.String(), nil)
}

// errorResponse classifies err. Client errors keep their message; anything
// else is logged and reported generically.
func errorResponse(err error) Response {
	if fmerrors.IsClientError(err) || fmerrors.IsDecodeError(err) {
		return Response{
			Status: StatusClientError,
			Error:  clientMessage(err),
			Code:   fmerrors.GetCode(err),
		}
	}
	slog.Error("query_failed", slog.String("error", err.Error()), slog.Any("cause", errors.Unwrap(err)))
	return serverError()
}

func clientMessage(err error) string {
	var fe *fmerrors.FMError
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}

func serverError() Response {
	return Response{
		Status: StatusServerError,
		Error:  "internal server error",
		Code:   fmerrors.ErrCodeInternal,
	}
}

// queryLogEntry is one line of the query log.
type queryLogEntry struct {
	Time      time.Time       `json:"time"`
	Index     string          `json:"index"`
	Operation string          `json:"operation"`
	Query     any             `json:"query"`
	Params    json.RawMessage `json:"params,omitempty"`
	Status    Status          `json:"status"`
	Error     string          `json:"error,omitempty"`
	LatencyMS float64         `json:"latency_ms"`
}

func (r *Router) observe(req Request, resp Response, count uint64, latency time.Duration) {
	if r.recorder != nil {
		q, _ := req.Query.(string)
		r.recorder.Record(telemetry.QueryEvent{
			Index:       req.Index,
			Operation:   req.Operation,
			Query:       q,
			ResultCount: count,
			Status:      resp.Status.String(),
			Latency:     latency,
			Timestamp:   time.Now(),
		})
	}

	if r.queryLog == nil {
		return
	}
	params := req.Params
	if len(params) > 0 && !json.Valid(params) {
		params = nil
	}
	line, err := json.Marshal(queryLogEntry{
		Time:      time.Now().UTC(),
		Index:     req.Index,
		Operation: req.Operation,
		Query:     req.Query,
		Params:    params,
		Status:    resp.Status,
		Error:     resp.Error,
		LatencyMS: resp.LatencyMS,
	})
	if err != nil {
		slog.Warn("query_log_encode_failed", slog.String("error", err.Error()))
		return
	}
	line = append(line, '\n')

	r.logMu.Lock()
	defer r.logMu.Unlock()
	if _, err := r.queryLog.Write(line); err != nil {
		slog.Warn("query_log_write_failed", slog.String("error", err.Error()))
	}
}
