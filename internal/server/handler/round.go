package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/coinpick/internal/domain"
)

// RoundService is what the round handler needs from the game session.
type RoundService interface {
	StartRound(ctx context.Context, timeframeMinutes int, ids []string) (domain.RoundSnapshot, error)
	Select(ctx context.Context, id string) (string, error)
	Cancel(ctx context.Context) error
	Snapshot() domain.RoundSnapshot
	Stats() domain.Summary
	History(ctx context.Context, limit int) ([]domain.RoundReport, error)
	Catalog() []domain.Instrument
	Player() string
}

// PriceLookup returns cached prices without querying the upstream source.
type PriceLookup interface {
	Cached(ctx context.Context, ids []string) (map[string]float64, error)
}

// HistoryExporter uploads round history and returns the object key.
type HistoryExporter interface {
	ExportHistory(ctx context.Context, player string, reports []domain.RoundReport) (string, error)
}

// RoundHandler serves the game endpoints.
type RoundHandler struct {
	session  RoundService
	prices   PriceLookup
	exporter HistoryExporter
	logger   *slog.Logger
}

// NewRoundHandler creates a RoundHandler. prices and exporter may be nil.
func NewRoundHandler(session RoundService, prices PriceLookup, exporter HistoryExporter, logger *slog.Logger) *RoundHandler {
	return &RoundHandler{
		session:  session,
		prices:   prices,
		exporter: exporter,
		logger:   logHandler(logger, "round"),
	}
}

type startRoundRequest struct {
	TimeframeMinutes int      `json:"timeframe_minutes"`
	Instruments      []string `json:"instruments"`
}

type selectRequest struct {
	ID string `json:"id"`
}

type instrumentView struct {
	domain.Instrument
	Price *float64 `json:"price,omitempty"`
}

// ListInstruments returns the catalog with the last cached price of each
// instrument when a cache is configured.
// GET /api/instruments
func (h *RoundHandler) ListInstruments(w http.ResponseWriter, r *http.Request) {
	catalog := h.session.Catalog()
	var prices map[string]float64
	if h.prices != nil {
		p, err := h.prices.Cached(r.Context(), domain.InstrumentIDs(catalog))
		if err != nil {
			h.logger.WarnContext(r.Context(), "cached prices unavailable", slog.String("error", err.Error()))
		}
		prices = p
	}

	out := make([]instrumentView, len(catalog))
	for i, inst := range catalog {
		out[i] = instrumentView{Instrument: inst}
		if p, ok := prices[inst.ID]; ok {
			out[i].Price = &p
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"instruments": out})
}

// GetRound returns the current round.
// GET /api/round
func (h *RoundHandler) GetRound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// StartRound starts a round. An empty body uses the default timeframe and a
// random draw.
// POST /api/round
func (h *RoundHandler) StartRound(w http.ResponseWriter, r *http.Request) {
	var req startRoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	snap, err := h.session.StartRound(r.Context(), req.TimeframeMinutes, req.Instruments)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "start round failed", slog.String("error", err.Error()))
		}
		if errors.Is(err, domain.ErrBaselineFetchFailed) {
			// The round stays selecting; hand it back so the UI can retry.
			writeJSON(w, status, map[string]any{"error": err.Error(), "round": snap})
			return
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// SelectInstrument toggles the player's pick.
// POST /api/round/select
func (h *RoundHandler) SelectInstrument(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	sel, err := h.session.Select(r.Context(), req.ID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"selection": sel})
}

// CancelRound abandons the active round.
// DELETE /api/round
func (h *RoundHandler) CancelRound(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Cancel(r.Context()); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// GetStats returns the player's cumulative stats.
// GET /api/stats
func (h *RoundHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Stats())
}

// ListRounds returns recent finished rounds, newest first.
// GET /api/rounds?limit=20
func (h *RoundHandler) ListRounds(w http.ResponseWriter, r *http.Request) {
	reports, err := h.session.History(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list rounds failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list rounds")
		return
	}
	if reports == nil {
		reports = []domain.RoundReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rounds": reports})
}

// ExportRounds uploads recent history as JSONL to object storage.
// POST /api/rounds/export?limit=500
func (h *RoundHandler) ExportRounds(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		writeError(w, http.StatusNotImplemented, "object storage is not configured")
		return
	}
	reports, err := h.session.History(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "export: list rounds failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list rounds")
		return
	}
	path, err := h.exporter.ExportHistory(r.Context(), h.session.Player(), reports)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "export failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "export failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"path": path, "rounds": len(reports)})
}
