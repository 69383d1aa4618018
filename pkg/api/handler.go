// Package api exposes the simulator over HTTP: stateless simulation, bundles,
// and stateful sessions, mirroring the /api/v1 surface clients already speak.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/ethsim/tx-simulator/pkg/history"
	"github.com/ethsim/tx-simulator/pkg/simulator"
)

// Simulator is the simulation surface served over HTTP.
type Simulator interface {
	Simulate(ctx context.Context, tx *simulator.TransactionRequest) (*simulator.CallResult, error)
	SimulateBundle(ctx context.Context, txs []*simulator.TransactionRequest) ([]*simulator.CallResult, error)
	StartSession(ctx context.Context, req *simulator.SessionRequest) (string, error)
	RunSession(ctx context.Context, id string, txs []*simulator.TransactionRequest) ([]*simulator.CallResult, error)
	EndSession(ctx context.Context, id string) error
}

// HealthReporter answers whether an upstream endpoint is usable.
type HealthReporter interface {
	HasHealthyEndpoint() bool
}

type Handler struct {
	log       logrus.FieldLogger
	simulator Simulator
	recorder  history.Recorder
	health    HealthReporter
}

func NewHandler(log logrus.FieldLogger, sim Simulator, recorder history.Recorder, health HealthReporter) *Handler {
	return &Handler{
		log:       log.WithField("component", "api"),
		simulator: sim,
		recorder:  recorder,
		health:    health,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/simulate", h.simulate)
		r.Post("/simulate-bundle", h.simulateBundle)
		r.Post("/simulate-stateful", h.startSession)
		r.Post("/simulate-stateful/{id}", h.runSession)
		r.Delete("/simulate-stateful/{id}", h.endSession)
	})

	r.Get("/healthz", h.healthz)
}

func (h *Handler) simulate(w http.ResponseWriter, r *http.Request) {
	var req SimulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))

		return
	}

	tx, err := req.toTransaction()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)

		return
	}

	ctx := r.Context()
	start := time.Now()

	result, err := h.simulator.Simulate(ctx, tx)
	if err != nil {
		h.writeServiceError(w, err)

		return
	}

	h.record(ctx, "simulate", tx.ChainID, start, []*simulator.CallResult{result})
	h.writeJSON(w, http.StatusOK, newSimulationResponse(1, result))
}

func (h *Handler) simulateBundle(w http.ResponseWriter, r *http.Request) {
	txs, ok := h.decodeBundle(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	start := time.Now()

	results, err := h.simulator.SimulateBundle(ctx, txs)
	if err != nil {
		h.writeServiceError(w, err)

		return
	}

	h.record(ctx, "bundle", txs[0].ChainID, start, results)
	h.writeJSON(w, http.StatusOK, newSimulationResponses(results))
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	var req StatefulSimulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))

		return
	}

	id, err := h.simulator.StartSession(r.Context(), req.toSession())
	if err != nil {
		h.writeServiceError(w, err)

		return
	}

	h.writeJSON(w, http.StatusOK, StatefulSimulationResponse{StatefulSimulationID: id})
}

func (h *Handler) runSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	txs, ok := h.decodeBundle(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	start := time.Now()

	results, err := h.simulator.RunSession(ctx, id, txs)
	if err != nil {
		h.writeServiceError(w, err)

		return
	}

	h.record(ctx, "stateful", txs[0].ChainID, start, results)
	h.writeJSON(w, http.StatusOK, newSimulationResponses(results))
}

func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) {
	if err := h.simulator.EndSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, err)

		return
	}

	h.writeJSON(w, http.StatusOK, StatefulSimulationEndResponse{Success: true})
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	if !h.health.HasHealthyEndpoint() {
		h.writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy"})

		return
	}

	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// decodeBundle reads an ordered array of simulation requests. Replies and
// returns false on malformed or empty input.
func (h *Handler) decodeBundle(w http.ResponseWriter, r *http.Request) ([]*simulator.TransactionRequest, bool) {
	var reqs []SimulationRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))

		return nil, false
	}

	if len(reqs) == 0 {
		h.writeError(w, http.StatusBadRequest, errors.New("bundle must contain at least one transaction"))

		return nil, false
	}

	txs := make([]*simulator.TransactionRequest, 0, len(reqs))

	for i := range reqs {
		tx, err := reqs[i].toTransaction()
		if err != nil {
			h.writeError(w, http.StatusBadRequest, fmt.Errorf("element %d: %w", i, err))

			return nil, false
		}

		txs = append(txs, tx)
	}

	return txs, true
}

func newSimulationResponses(results []*simulator.CallResult) []SimulationResponse {
	out := make([]SimulationResponse, 0, len(results))

	for i, result := range results {
		out = append(out, newSimulationResponse(uint64(i+1), result))
	}

	return out
}

// record hands the request outcome to the history pipeline. One record per
// request: bundles sum gas, keep the last block number, and succeed only when
// every element did.
func (h *Handler) record(ctx context.Context, mode string, chainID uint64, start time.Time, results []*simulator.CallResult) {
	rec := history.Record{
		Mode:      mode,
		ChainID:   chainID,
		Success:   true,
		Duration:  time.Since(start),
		Timestamp: time.Now(),
	}

	for _, result := range results {
		rec.GasUsed += result.GasUsed
		rec.BlockNumber = result.BlockNumber
		rec.Success = rec.Success && result.Success
	}

	if err := h.recorder.Record(ctx, rec); err != nil {
		h.log.WithError(err).Warn("Failed to record simulation")
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)

	if status >= http.StatusInternalServerError {
		h.log.WithError(err).Error("Simulation failed")
	}

	h.writeError(w, status, err)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.WithError(err).Error("failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, ErrorResponse{Code: status, Message: err.Error()})
}
