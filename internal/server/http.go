package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"OutcomeMarket/internal/command"
	"OutcomeMarket/internal/core"
	"OutcomeMarket/internal/event"
	"OutcomeMarket/internal/failure"
	"OutcomeMarket/internal/ingestion"
	"OutcomeMarket/internal/observability"
	"OutcomeMarket/internal/query"

	"github.com/ethereum/go-ethereum/common"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"golang.org/x/time/rate"
)

const maxCommandBody = 64 << 10

// CommandSubmitter applies a command and returns the core's result.
// *ingestion.Gateway implements it.
type CommandSubmitter interface {
	Submit(ctx context.Context, cmd command.Command) (core.Result, error)
}

// ServerDeps holds everything the HTTP routes need. Query, Snapshot and
// Admin may be nil; their routes then answer 503.
type ServerDeps struct {
	Commands      CommandSubmitter
	Query         *query.QueryService
	Admin         AdminOps
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics

	// Command endpoint limit, requests per second and burst
	CommandRate  float64
	CommandBurst int

	// Collateral decimals for rendering command results
	Decimals uint8
}

// AdminOps are maintenance operations wired by the service binary.
type AdminOps interface {
	TakeSnapshot(ctx context.Context) (int64, error)
	RebuildBalances(ctx context.Context) error
	LatestSequence(ctx context.Context) (int64, error)
}

type api struct {
	deps    *ServerDeps
	limiter *rate.Limiter
}

// NewHTTPHandler builds the JSON API on a grpc-gateway ServeMux.
func NewHTTPHandler(deps *ServerDeps, opts ...runtime.ServeMuxOption) (*runtime.ServeMux, error) {
	a := &api{
		deps:    deps,
		limiter: rate.NewLimiter(rate.Limit(deps.CommandRate), deps.CommandBurst),
	}
	mux := runtime.NewServeMux(opts...)

	routes := []struct {
		method, pattern, name string
		h                     runtime.HandlerFunc
	}{
		{"POST", "/v1/commands/{type}", "command", a.submitCommand},
		{"GET", "/v1/pool", "pool", a.getPool},
		{"GET", "/v1/quote", "quote", a.getQuote},
		{"GET", "/v1/accounts/{address}", "account", a.getAccount},
		{"GET", "/v1/accounts/{address}/balances", "balances", a.getBalances},
		{"GET", "/v1/accounts/{address}/orders", "orders", a.getOrders},
		{"GET", "/v1/accounts/{address}/trades", "trades", a.getTrades},
		{"GET", "/v1/accounts/{address}/journal", "journal", a.getJournal},
		{"GET", "/v1/events/{id}", "event", a.getEvent},
		{"GET", "/v1/admin/integrity", "integrity", a.verifyIntegrity},
		{"GET", "/v1/admin/log", "log", a.logInfo},
		{"POST", "/v1/admin/snapshot", "snapshot", a.takeSnapshot},
		{"POST", "/v1/admin/rebuild-balances", "rebuild_balances", a.rebuildBalances},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, a.instrument(r.name, r.h)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}
	return mux, nil
}

// --- Commands ---

type commandResponse struct {
	Sequence  int64            `json:"sequence"`
	Duplicate bool             `json:"duplicate,omitempty"`
	Amount    string           `json:"amount,omitempty"`
	OrderID   uint64           `json:"order_id,omitempty"`
	Event     *event.EventInfo `json:"event,omitempty"`
	Events    []eventJSON      `json:"events,omitempty"`
}

type eventJSON struct {
	Type    string      `json:"type"`
	Payload event.Event `json:"payload"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (a *api) submitCommand(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if !a.limiter.Allow() {
		if a.deps.Metrics != nil {
			a.deps.Metrics.RateLimited.WithLabelValues("command").Inc()
		}
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if len(body) > maxCommandBody {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "command body too large"})
		return
	}

	cmd, err := ingestion.ParseCommand(params["type"], body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	res, err := a.deps.Commands.Submit(r.Context(), cmd)
	if err != nil {
		status, kind := commandErrorStatus(err)
		writeJSON(w, status, errorResponse{Error: failure.Reason(err), Kind: kind})
		return
	}

	resp := commandResponse{Sequence: res.Sequence, Duplicate: res.Duplicate, OrderID: res.OrderID, Event: res.Event}
	if !res.Amount.IsZero() {
		resp.Amount = res.Amount.Decimal(a.deps.Decimals).String()
	}
	for _, e := range res.Events {
		resp.Events = append(resp.Events, eventJSON{Type: e.EventType().String(), Payload: e})
	}
	writeJSON(w, http.StatusOK, resp)
}

// commandErrorStatus maps a rejection to its HTTP status and kind label.
func commandErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ingestion.ErrGatewayClosed):
		return http.StatusServiceUnavailable, ""
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, ""
	}

	kind := failure.KindOf(err)
	switch kind {
	case failure.KindAuthorization:
		return http.StatusForbidden, kind.String()
	case failure.KindTemporal, failure.KindState:
		return http.StatusConflict, kind.String()
	case failure.KindEconomic:
		return http.StatusUnprocessableEntity, kind.String()
	case failure.KindInvalid:
		return http.StatusBadRequest, kind.String()
	default:
		return http.StatusInternalServerError, kind.String()
	}
}

// --- Queries ---

func (a *api) getPool(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if !a.requireQuery(w) {
		return
	}
	resp, err := a.deps.Query.GetPool(r.Context())
	a.respond(w, resp, err)
}

func (a *api) getQuote(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if !a.requireQuery(w) {
		return
	}
	resp, err := a.deps.Query.GetQuote(r.Context())
	a.respond(w, resp, err)
}

func (a *api) getAccount(w http.ResponseWriter, r *http.Request, params map[string]string) {
	owner, ok := a.address(w, params)
	if !ok {
		return
	}
	resp, err := a.deps.Query.GetAccount(r.Context(), owner)
	a.respond(w, resp, err)
}

func (a *api) getBalances(w http.ResponseWriter, r *http.Request, params map[string]string) {
	owner, ok := a.address(w, params)
	if !ok {
		return
	}
	resp, err := a.deps.Query.GetBalances(r.Context(), owner)
	a.respond(w, resp, err)
}

func (a *api) getOrders(w http.ResponseWriter, r *http.Request, params map[string]string) {
	owner, ok := a.address(w, params)
	if !ok {
		return
	}
	resp, err := a.deps.Query.GetOrders(r.Context(), owner)
	a.respond(w, resp, err)
}

func (a *api) getTrades(w http.ResponseWriter, r *http.Request, params map[string]string) {
	owner, ok := a.address(w, params)
	if !ok {
		return
	}
	limit, err := pageSize(r, 50, 500)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, a.deps.Query.GetTrades(owner, limit))
}

func (a *api) getJournal(w http.ResponseWriter, r *http.Request, params map[string]string) {
	owner, ok := a.address(w, params)
	if !ok {
		return
	}
	limit, err := pageSize(r, 100, 500)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	var before *int64
	if s := r.URL.Query().Get("before"); s != "" {
		seq, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid before sequence"})
			return
		}
		before = &seq
	}
	resp, err := a.deps.Query.GetJournalHistory(r.Context(), owner, limit, before)
	a.respond(w, resp, err)
}

func (a *api) getEvent(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if !a.requireQuery(w) {
		return
	}
	id, err := strconv.ParseUint(params["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid event id"})
		return
	}
	resp, err := a.deps.Query.GetEvent(r.Context(), id)
	a.respond(w, resp, err)
}

// --- Admin ---

func (a *api) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if !a.requireQuery(w) {
		return
	}
	resp, err := a.deps.Query.VerifyIntegrity(r.Context())
	a.respond(w, resp, err)
}

func (a *api) logInfo(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if !a.requireAdmin(w) {
		return
	}
	seq, err := a.deps.Admin.LatestSequence(r.Context())
	a.respond(w, map[string]int64{"last_sequence": seq}, err)
}

func (a *api) takeSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if !a.requireAdmin(w) {
		return
	}
	seq, err := a.deps.Admin.TakeSnapshot(r.Context())
	a.respond(w, map[string]int64{"sequence": seq}, err)
}

func (a *api) rebuildBalances(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if !a.requireAdmin(w) {
		return
	}
	err := a.deps.Admin.RebuildBalances(r.Context())
	a.respond(w, map[string]bool{"rebuilt": err == nil}, err)
}

// --- helpers ---

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *api) instrument(name string, h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r, params)

		m := a.deps.Metrics
		if m == nil {
			return
		}
		code := strconv.Itoa(rec.status)
		m.QueryRequests.WithLabelValues(name, code).Inc()
		m.QueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if rec.status >= http.StatusInternalServerError {
			m.QueryErrors.WithLabelValues(name, code).Inc()
		}
	}
}

func (a *api) requireQuery(w http.ResponseWriter) bool {
	if a.deps.Query == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "queries unavailable"})
		return false
	}
	return true
}

func (a *api) requireAdmin(w http.ResponseWriter) bool {
	if a.deps.Admin == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "admin operations unavailable"})
		return false
	}
	return true
}

func (a *api) address(w http.ResponseWriter, params map[string]string) (common.Address, bool) {
	if !a.requireQuery(w) {
		return common.Address{}, false
	}
	s := params["address"]
	if !common.IsHexAddress(s) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid address %q", s)})
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func (a *api) respond(w http.ResponseWriter, v interface{}, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, v)
	case errors.Is(err, query.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func pageSize(r *http.Request, def, maxSize int) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q", s)
	}
	return min(n, maxSize), nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
