package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alanyoungcy/coinpick/internal/domain"
)

// ExportPartSize is the multipart chunk size for history exports.
const ExportPartSize int64 = 8 * 1024 * 1024

// ObjectStore is the part of object storage the archive needs.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
	UploadStream(ctx context.Context, key string, body io.Reader, contentType string) error
	ObjectExists(ctx context.Context, key string) (bool, error)
}

// RoundArchiver stores each finished round as a JSON object and exports
// round history as JSONL. It is a domain.EventSink fed by the session.
type RoundArchiver struct {
	store  ObjectStore
	logger *slog.Logger
	now    func() time.Time
}

// NewRoundArchiver creates a RoundArchiver over store.
func NewRoundArchiver(store ObjectStore, logger *slog.Logger) *RoundArchiver {
	return &RoundArchiver{
		store:  store,
		logger: logger.With(slog.String("component", "round_archiver")),
		now:    time.Now,
	}
}

// RoundPath builds the object key for a round report, partitioned by the
// UTC day the round ended.
//
//	rounds/2025/01/31/<round-id>.json
func RoundPath(r domain.RoundReport) string {
	return fmt.Sprintf("rounds/%s/%s.json", r.EndedAt.UTC().Format("2006/01/02"), r.ID)
}

// ExportPath builds the object key for a history export.
//
//	exports/<player>/20250131T120000Z.jsonl
func ExportPath(player string, at time.Time) string {
	return fmt.Sprintf("exports/%s/%s.jsonl", player, at.UTC().Format("20060102T150405Z"))
}

// HandleEvent archives round_ended reports and ignores every other event.
// Failures are logged; archiving never blocks the game.
func (a *RoundArchiver) HandleEvent(ctx context.Context, ev domain.Event) {
	if ev.Type != domain.EventRoundEnded {
		return
	}
	p, ok := ev.Payload.(domain.RoundEndedPayload)
	if !ok {
		return
	}
	if _, err := a.Archive(ctx, p.Report); err != nil {
		a.logger.WarnContext(ctx, "archive round failed",
			slog.String("round_id", p.Report.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Archive uploads r and returns its key. An already archived round is left
// untouched.
func (a *RoundArchiver) Archive(ctx context.Context, r domain.RoundReport) (string, error) {
	path := RoundPath(r)
	exists, err := a.store.ObjectExists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive round %s: %w", r.ID, err)
	}
	if exists {
		return path, nil
	}

	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal round %s: %w", r.ID, err)
	}
	if err := a.store.PutObject(ctx, path, data, "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive round %s: %w", r.ID, err)
	}
	a.logger.InfoContext(ctx, "round archived",
		slog.String("round_id", r.ID),
		slog.String("path", path),
	)
	return path, nil
}

// ExportHistory uploads reports as one JSONL object and returns its key.
func (a *RoundArchiver) ExportHistory(ctx context.Context, player string, reports []domain.RoundReport) (string, error) {
	buf, err := marshalJSONL(reports)
	if err != nil {
		return "", fmt.Errorf("s3blob: export history marshal: %w", err)
	}
	path := ExportPath(player, a.now())
	if err := a.store.UploadStream(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: export history upload: %w", err)
	}
	a.logger.InfoContext(ctx, "history exported",
		slog.String("player", player),
		slog.Int("rounds", len(reports)),
		slog.String("path", path),
	)
	return path, nil
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.EventSink = (*RoundArchiver)(nil)
