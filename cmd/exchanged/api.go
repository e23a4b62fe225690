package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/substratelabs/asset-exchange/pkg/executor"
	"github.com/substratelabs/asset-exchange/pkg/graph"
	"github.com/substratelabs/asset-exchange/pkg/metrics"
	"github.com/substratelabs/asset-exchange/pkg/planner"
	"github.com/substratelabs/asset-exchange/pkg/types"
	"github.com/substratelabs/asset-exchange/pkg/venues"
)

// apiServer exposes the engine over HTTP.
type apiServer struct {
	planner  *planner.Planner
	graphs   *graph.Provider
	venues   *venues.Registry
	signer   types.Signer
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func newAPIServer(
	p *planner.Planner,
	g *graph.Provider,
	reg *venues.Registry,
	signer types.Signer,
	promRegistry *prometheus.Registry,
	m *metrics.Metrics,
	log *zap.Logger,
) *apiServer {
	return &apiServer{
		planner:  p,
		graphs:   g,
		venues:   reg,
		signer:   signer,
		registry: promRegistry,
		metrics:  m,
		log:      log.Named("api"),
	}
}

func (s *apiServer) routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/v1/quote", s.handleQuote).Methods(http.MethodPost)
	r.HandleFunc("/v1/fee", s.handleFee).Methods(http.MethodPost)
	r.HandleFunc("/v1/execute", s.handleExecute).Methods(http.MethodPost)
	r.HandleFunc("/v1/reachability/from/{chain}/{asset}", s.handleReachableFrom).Methods(http.MethodGet)
	r.HandleFunc("/v1/reachability/to/{chain}/{asset}", s.handleReachingTo).Methods(http.MethodGet)
	r.HandleFunc("/v1/assets/origins", s.handleOrigins).Methods(http.MethodGet)
	r.HandleFunc("/v1/assets/destinations", s.handleDestinations).Methods(http.MethodGet)
	r.HandleFunc("/v1/graph", s.handleGraph).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps engine error taxonomy onto HTTP status codes.
func (s *apiServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrIdentityTrade),
		errors.Is(err, types.ErrInvalidSlippage):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrRouteNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrQuoteFailed),
		errors.Is(err, types.ErrInsufficientLiquidity),
		errors.Is(err, types.ErrFeeAssetUnsupported),
		errors.Is(err, types.ErrRouteUnsupported):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrOrchestratorSpent):
		status = http.StatusConflict
	}
	encodeJSON(w, status, errorResponse{Error: err.Error()}, s.log)
}

func (s *apiServer) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req types.QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		encodeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"}, s.log)
		return
	}
	if req.Direction == "" {
		req.Direction = types.DirectionSell
	}

	route, err := s.planner.FindRoute(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	encodeJSON(w, http.StatusOK, route, s.log)
}

func (s *apiServer) handleFee(w http.ResponseWriter, r *http.Request) {
	var req types.FeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		encodeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"}, s.log)
		return
	}

	fee, err := s.planner.ComputeFee(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	encodeJSON(w, http.StatusOK, fee, s.log)
}

// executeEvent is one line of the execution progress stream.
type executeEvent struct {
	ExecutionID        string `json:"execution_id,omitempty"`
	HopStarted         *int   `json:"hop_started,omitempty"`
	Received           string `json:"received,omitempty"`
	Error              string `json:"error,omitempty"`
	FailedHop          *int   `json:"failed_hop,omitempty"`
	PartiallyCompleted bool   `json:"partially_completed,omitempty"`
}

// handleExecute runs the accepted fee's route and streams progress as
// JSON lines. Each hop start is reported before its submission so a
// disconnecting client still knows how far the execution got.
func (s *apiServer) handleExecute(w http.ResponseWriter, r *http.Request) {
	if s.signer == nil {
		encodeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "no signer configured"}, s.log)
		return
	}

	var fee types.Fee
	if err := json.NewDecoder(r.Body).Decode(&fee); err != nil {
		encodeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"}, s.log)
		return
	}

	mgr := executor.NewManager(&fee, s.venues, s.signer, s.log,
		executor.WithMetrics(s.metrics))

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	emit := func(ev executeEvent) {
		if err := enc.Encode(ev); err != nil {
			s.log.Warn("progress encoding failed", zap.Error(err))
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	emit(executeEvent{ExecutionID: mgr.ID()})

	received, err := mgr.Execute(r.Context(), func(hop int) {
		h := hop
		emit(executeEvent{HopStarted: &h})
	})
	if err != nil {
		ev := executeEvent{Error: err.Error()}
		var execErr *types.ExecutionError
		if errors.As(err, &execErr) {
			hop := execErr.HopIndex
			ev.FailedHop = &hop
			ev.PartiallyCompleted = execErr.PartiallyCompleted
		}
		emit(ev)
		return
	}

	emit(executeEvent{Received: received.String()})
}

func (s *apiServer) handleReachableFrom(w http.ResponseWriter, r *http.Request) {
	node := nodeFromVars(mux.Vars(r))
	nodes := s.graphs.AssetsReachableFrom(node)
	encodeJSON(w, http.StatusOK, map[string]any{"node": node, "reachable": nodes}, s.log)
}

func (s *apiServer) handleReachingTo(w http.ResponseWriter, r *http.Request) {
	node := nodeFromVars(mux.Vars(r))
	nodes := s.graphs.AssetsReachingTo(node)
	encodeJSON(w, http.StatusOK, map[string]any{"node": node, "reaching": nodes}, s.log)
}

// handleOrigins lists every asset that can start a swap: the "pay with"
// picker population.
func (s *apiServer) handleOrigins(w http.ResponseWriter, r *http.Request) {
	snap := s.graphs.Current()
	if snap == nil {
		encodeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "graph not built yet"}, s.log)
		return
	}
	encodeJSON(w, http.StatusOK, map[string]any{"assets": snap.Reachability().AllAssetsOut()}, s.log)
}

// handleDestinations lists every asset a swap can deliver: the
// "receive" picker population.
func (s *apiServer) handleDestinations(w http.ResponseWriter, r *http.Request) {
	snap := s.graphs.Current()
	if snap == nil {
		encodeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "graph not built yet"}, s.log)
		return
	}
	encodeJSON(w, http.StatusOK, map[string]any{"assets": snap.Reachability().AllAssetsIn()}, s.log)
}

func (s *apiServer) handleGraph(w http.ResponseWriter, r *http.Request) {
	snap := s.graphs.Current()
	if snap == nil {
		encodeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "graph not built yet"}, s.log)
		return
	}
	encodeJSON(w, http.StatusOK, map[string]any{
		"version": snap.Version(),
		"nodes":   snap.NodeCount(),
		"edges":   snap.EdgeCount(),
	}, s.log)
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.graphs.Current() == nil {
		status = "starting"
		code = http.StatusServiceUnavailable
	}
	encodeJSON(w, code, map[string]string{"status": status}, s.log)
}

func nodeFromVars(vars map[string]string) types.AssetNode {
	return types.NewAssetNode(types.ChainID(vars["chain"]), types.AssetID(vars["asset"]))
}
