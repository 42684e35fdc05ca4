package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/alanyoungcy/coinpick/internal/domain"
)

func TestKV(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "coinpick.db")

	kv, err := Open(ctx, path, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := kv.Get(ctx, "coinpick_stats"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get missing err = %v, want ErrNotFound", err)
	}

	if err := kv.Put(ctx, "coinpick_stats", []byte(`{"wins":1}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := kv.Put(ctx, "coinpick_stats", []byte(`{"wins":2}`)); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	if err := kv.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(ctx, path, logger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "coinpick_stats")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"wins":2}` {
		t.Errorf("Get = %s, want {\"wins\":2}", got)
	}
}
