package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alanyoungcy/coinpick/internal/domain"
)

type fakeSession struct {
	startErr   error
	selectErr  error
	cancelErr  error
	historyErr error

	gotTimeframe int
	gotIDs       []string
	gotSelect    string
	history      []domain.RoundReport
	historyLimit int
}

func (f *fakeSession) StartRound(_ context.Context, tf int, ids []string) (domain.RoundSnapshot, error) {
	f.gotTimeframe, f.gotIDs = tf, ids
	if f.startErr != nil {
		return domain.RoundSnapshot{Status: domain.RoundSelecting}, f.startErr
	}
	return domain.RoundSnapshot{ID: "r1", Status: domain.RoundActive, TimeframeMinutes: tf}, nil
}

func (f *fakeSession) Select(_ context.Context, id string) (string, error) {
	f.gotSelect = id
	return id, f.selectErr
}

func (f *fakeSession) Cancel(context.Context) error { return f.cancelErr }

func (f *fakeSession) Snapshot() domain.RoundSnapshot {
	return domain.RoundSnapshot{ID: "r1", Status: domain.RoundActive}
}

func (f *fakeSession) Stats() domain.Summary {
	return domain.Stats{Wins: 3, Losses: 1, Streak: 2, BestStreak: 2}.Summary()
}

func (f *fakeSession) History(_ context.Context, limit int) ([]domain.RoundReport, error) {
	f.historyLimit = limit
	return f.history, f.historyErr
}

func (f *fakeSession) Catalog() []domain.Instrument {
	return []domain.Instrument{{ID: "bitcoin", Symbol: "BTC"}, {ID: "bonk", Symbol: "BONK"}}
}

func (f *fakeSession) Player() string { return "alice" }

type fakePrices map[string]float64

func (p fakePrices) Cached(context.Context, []string) (map[string]float64, error) { return p, nil }

type fakeExporter struct {
	player string
	n      int
	err    error
}

func (e *fakeExporter) ExportHistory(_ context.Context, player string, reports []domain.RoundReport) (string, error) {
	e.player, e.n = player, len(reports)
	return "exports/alice/x.jsonl", e.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func do(t *testing.T, h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestStartRound(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		startErr   error
		wantStatus int
		wantInBody string
	}{
		{"empty body uses defaults", "", nil, http.StatusCreated, `"status":"active"`},
		{"explicit", `{"timeframe_minutes":5,"instruments":["bitcoin","bonk"]}`, nil, http.StatusCreated, `"timeframe_minutes":5`},
		{"wrong instrument count", `{"instruments":["bitcoin"]}`, fmt.Errorf("x: %w", domain.ErrInvalidInstrumentSet), http.StatusBadRequest, "invalid instrument set"},
		{"bad json", `{`, nil, http.StatusBadRequest, "invalid request body"},
		{"invalid timeframe", `{"timeframe_minutes":7}`, domain.ErrInvalidTimeframe, http.StatusBadRequest, "timeframe"},
		{"in progress", `{}`, domain.ErrRoundInProgress, http.StatusConflict, "in progress"},
		{"lock held", `{}`, fmt.Errorf("x: %w", domain.ErrLockHeld), http.StatusConflict, "lock"},
		{"baseline failure returns round", `{}`, domain.ErrBaselineFetchFailed, http.StatusBadGateway, `"round":{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSession{startErr: tt.startErr}
			h := NewRoundHandler(s, nil, nil, quietLogger())
			rec := do(t, h.StartRound, http.MethodPost, "/api/round", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if !strings.Contains(rec.Body.String(), tt.wantInBody) {
				t.Errorf("body %s missing %q", rec.Body, tt.wantInBody)
			}
		})
	}
}

func TestStartRoundPassesRequest(t *testing.T) {
	s := &fakeSession{}
	h := NewRoundHandler(s, nil, nil, quietLogger())
	do(t, h.StartRound, http.MethodPost, "/api/round", `{"timeframe_minutes":15,"instruments":["bitcoin","bonk"]}`)
	if s.gotTimeframe != 15 || strings.Join(s.gotIDs, ",") != "bitcoin,bonk" {
		t.Errorf("session got %d %v", s.gotTimeframe, s.gotIDs)
	}
}

func TestSelectInstrument(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{"ok", `{"id":"bitcoin"}`, nil, http.StatusOK},
		{"missing id", `{}`, nil, http.StatusBadRequest},
		{"unknown", `{"id":"x"}`, domain.ErrUnknownInstrument, http.StatusBadRequest},
		{"locked", `{"id":"bitcoin"}`, domain.ErrRoundEnded, http.StatusConflict},
		{"no round", `{"id":"bitcoin"}`, domain.ErrNoActiveRound, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRoundHandler(&fakeSession{selectErr: tt.err}, nil, nil, quietLogger())
			rec := do(t, h.SelectInstrument, http.MethodPost, "/api/round/select", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestCancelRound(t *testing.T) {
	h := NewRoundHandler(&fakeSession{cancelErr: domain.ErrNoActiveRound}, nil, nil, quietLogger())
	if rec := do(t, h.CancelRound, http.MethodDelete, "/api/round", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	h = NewRoundHandler(&fakeSession{}, nil, nil, quietLogger())
	if rec := do(t, h.CancelRound, http.MethodDelete, "/api/round", ""); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestGetStats(t *testing.T) {
	h := NewRoundHandler(&fakeSession{}, nil, nil, quietLogger())
	rec := do(t, h.GetStats, http.MethodGet, "/api/stats", "")

	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["wins"] != 3.0 || got["bestStreak"] != 2.0 || got["gamesPlayed"] != 4.0 || got["winRate"] != 75.0 {
		t.Errorf("stats body = %v", got)
	}
}

func TestListInstrumentsWithCachedPrices(t *testing.T) {
	h := NewRoundHandler(&fakeSession{}, fakePrices{"bitcoin": 67000}, nil, quietLogger())
	rec := do(t, h.ListInstruments, http.MethodGet, "/api/instruments", "")

	var body struct {
		Instruments []struct {
			ID    string   `json:"id"`
			Price *float64 `json:"price"`
		} `json:"instruments"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Instruments) != 2 {
		t.Fatalf("instruments = %+v", body.Instruments)
	}
	if body.Instruments[0].Price == nil || *body.Instruments[0].Price != 67000 {
		t.Error("bitcoin price missing")
	}
	if body.Instruments[1].Price != nil {
		t.Error("bonk should have no price")
	}
}

func TestListRounds(t *testing.T) {
	s := &fakeSession{}
	h := NewRoundHandler(s, nil, nil, quietLogger())
	rec := do(t, h.ListRounds, http.MethodGet, "/api/rounds?limit=5", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"rounds":[]`) {
		t.Errorf("got %d %s", rec.Code, rec.Body)
	}
	if s.historyLimit != 5 {
		t.Errorf("limit = %d, want 5", s.historyLimit)
	}

	s.historyErr = errors.New("db down")
	if rec := do(t, h.ListRounds, http.MethodGet, "/api/rounds", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestExportRounds(t *testing.T) {
	h := NewRoundHandler(&fakeSession{}, nil, nil, quietLogger())
	if rec := do(t, h.ExportRounds, http.MethodPost, "/api/rounds/export", ""); rec.Code != http.StatusNotImplemented {
		t.Errorf("no exporter status = %d", rec.Code)
	}

	exp := &fakeExporter{}
	s := &fakeSession{history: []domain.RoundReport{{ID: "a"}, {ID: "b"}}}
	h = NewRoundHandler(s, nil, exp, quietLogger())
	rec := do(t, h.ExportRounds, http.MethodPost, "/api/rounds/export", "")
	if rec.Code != http.StatusCreated || exp.player != "alice" || exp.n != 2 {
		t.Errorf("status=%d player=%q n=%d", rec.Code, exp.player, exp.n)
	}
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(map[string]Checker{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("refused") },
	}, quietLogger())
	rec := do(t, h.HealthCheck, http.MethodGet, "/api/health", "")

	var body struct {
		Status   string            `json:"status"`
		Backends map[string]string `json:"backends"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || body.Status != "degraded" || body.Backends["redis"] != "ok" {
		t.Errorf("health = %d %+v", rec.Code, body)
	}
}
