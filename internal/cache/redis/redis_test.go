package redis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/alanyoungcy/coinpick/internal/domain"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestKVStore(t *testing.T) {
	c, mr := newTestClient(t)
	kv := NewKVStore(c, "coinpick:player:alice:")
	ctx := context.Background()

	if _, err := kv.Get(ctx, "coinpick_stats"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get missing err = %v, want ErrNotFound", err)
	}
	if err := kv.Put(ctx, "coinpick_stats", []byte(`{"wins":3}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := kv.Get(ctx, "coinpick_stats")
	if err != nil || string(got) != `{"wins":3}` {
		t.Errorf("Get = %s, %v", got, err)
	}
	if v, _ := mr.Get("coinpick:player:alice:coinpick_stats"); v != `{"wins":3}` {
		t.Errorf("raw key = %q", v)
	}
	if mr.TTL("coinpick:player:alice:coinpick_stats") != 0 {
		t.Error("stats key should not expire")
	}
}

func TestPriceCache(t *testing.T) {
	c, mr := newTestClient(t)
	pc := NewPriceCache(c, time.Minute)
	ctx := context.Background()
	ts := time.Unix(1700000000, 123)

	if err := pc.SetPrice(ctx, "bitcoin", 67000.25, ts); err != nil {
		t.Fatalf("SetPrice: %v", err)
	}
	if err := pc.SetPrice(ctx, "bonk", 0.00002311, ts); err != nil {
		t.Fatalf("SetPrice: %v", err)
	}

	price, gotTS, err := pc.GetPrice(ctx, "bitcoin")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if price != 67000.25 || !gotTS.Equal(ts) {
		t.Errorf("GetPrice = %v @ %v, want 67000.25 @ %v", price, gotTS, ts)
	}
	if mr.TTL("price:bitcoin") != time.Minute {
		t.Errorf("TTL = %v, want 1m", mr.TTL("price:bitcoin"))
	}

	if _, _, err := pc.GetPrice(ctx, "solana"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetPrice missing err = %v, want ErrNotFound", err)
	}

	prices, err := pc.GetPrices(ctx, []string{"bitcoin", "bonk", "solana"})
	if err != nil {
		t.Fatalf("GetPrices: %v", err)
	}
	if len(prices) != 2 || prices["bonk"] != 0.00002311 {
		t.Errorf("GetPrices = %v", prices)
	}
}

func TestLockManager(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "round:alice", 30*time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := lm.Acquire(ctx, "round:alice", 30*time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second Acquire err = %v, want ErrLockHeld", err)
	}
	if _, err := lm.Acquire(ctx, "round:bob", 30*time.Second); err != nil {
		t.Fatalf("other key Acquire: %v", err)
	}

	unlock()
	unlock()
	if mr.Exists("lock:round:alice") {
		t.Error("lock key still present after unlock")
	}
	if _, err := lm.Acquire(ctx, "round:alice", 30*time.Second); err != nil {
		t.Errorf("Acquire after unlock: %v", err)
	}
}

func TestLockUnlockDoesNotStealNewHolder(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "round:alice", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	mr.FastForward(2 * time.Second)

	if _, err := lm.Acquire(ctx, "round:alice", time.Minute); err != nil {
		t.Fatalf("Acquire after expiry: %v", err)
	}
	unlock()
	if !mr.Exists("lock:round:alice") {
		t.Error("stale unlock released the new holder's lock")
	}
}

func TestRateLimiter(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "api:1.2.3.4", 3, time.Minute)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !ok {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
		now = now.Add(time.Second)
	}
	if ok, _ := rl.Allow(ctx, "api:1.2.3.4", 3, time.Minute); ok {
		t.Error("fourth request allowed, want denied")
	}
	if ok, _ := rl.Allow(ctx, "api:5.6.7.8", 3, time.Minute); !ok {
		t.Error("other client denied")
	}

	now = now.Add(time.Minute)
	if ok, _ := rl.Allow(ctx, "api:1.2.3.4", 3, time.Minute); !ok {
		t.Error("request after window denied")
	}
}

func TestSignalBusStreams(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx := context.Background()

	msgs, err := bus.StreamRead(ctx, "coinpick:rounds", "0", 10)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("StreamRead on empty stream = %v, %v", msgs, err)
	}

	for _, p := range []string{"one", "two"} {
		if err := bus.StreamAppend(ctx, "coinpick:rounds", []byte(p)); err != nil {
			t.Fatalf("StreamAppend: %v", err)
		}
	}
	msgs, err = bus.StreamRead(ctx, "coinpick:rounds", "0", 10)
	if err != nil {
		t.Fatalf("StreamRead: %v", err)
	}
	if len(msgs) != 2 || string(msgs[0].Payload) != "one" || string(msgs[1].Payload) != "two" {
		t.Errorf("StreamRead = %+v", msgs)
	}
}

func TestEventPublisher(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := bus.Subscribe(ctx, EventsChannel)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	pub := NewEventPublisher(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))
	pub.HandleEvent(ctx, domain.Event{Type: domain.EventCountdownTick, RoundID: "r1"})
	pub.HandleEvent(ctx, domain.Event{
		Type:    domain.EventRoundEnded,
		RoundID: "r1",
		Payload: domain.RoundEndedPayload{Report: domain.RoundReport{ID: "r1", Outcome: domain.OutcomeWin}},
	})

	for _, want := range []domain.EventType{domain.EventCountdownTick, domain.EventRoundEnded} {
		select {
		case raw := <-sub:
			var ev struct {
				Type domain.EventType `json:"type"`
			}
			if err := json.Unmarshal(raw, &ev); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if ev.Type != want {
				t.Errorf("event type = %s, want %s", ev.Type, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	msgs, err := bus.StreamRead(ctx, RoundsStream, "0", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Errorf("rounds stream has %d entries, want 1", len(msgs))
	}
}

func TestOptions(t *testing.T) {
	tests := []struct {
		name       string
		cfg        ClientConfig
		wantAddr   string
		wantDB     int
		wantPass   string
		wantTLS    bool
		wantServer string
	}{
		{"host port", ClientConfig{Addr: "localhost:6379", DB: 2, Password: "pw"}, "localhost:6379", 2, "pw", false, ""},
		{"url overrides fields", ClientConfig{Addr: "redis://:urlpw@cache:6380/3", DB: 1, Password: "ignored"}, "cache:6380", 3, "urlpw", false, ""},
		{"tls flag", ClientConfig{Addr: "cache.example.com:6380", TLSEnabled: true}, "cache.example.com:6380", 0, "", true, "cache.example.com"},
		{"rediss url", ClientConfig{Addr: "rediss://cache.example.com:6380"}, "cache.example.com:6380", 0, "", true, "cache.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := options(tt.cfg)
			if err != nil {
				t.Fatal(err)
			}
			if opts.Addr != tt.wantAddr || opts.DB != tt.wantDB || opts.Password != tt.wantPass {
				t.Errorf("opts = %s db=%d pass=%q", opts.Addr, opts.DB, opts.Password)
			}
			if (opts.TLSConfig != nil) != tt.wantTLS {
				t.Fatalf("TLS = %v, want %v", opts.TLSConfig != nil, tt.wantTLS)
			}
			if tt.wantTLS && opts.TLSConfig.ServerName != tt.wantServer {
				t.Errorf("ServerName = %q, want %q", opts.TLSConfig.ServerName, tt.wantServer)
			}
		})
	}
}

func TestOptionsBadURL(t *testing.T) {
	if _, err := options(ClientConfig{Addr: "redis://host:notaport/x"}); err == nil {
		t.Error("expected parse error")
	}
}
