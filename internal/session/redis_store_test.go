package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/gateway"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/transcript"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Error("expected error for invalid url")
	}
}

func TestLoadStateDefaults(t *testing.T) {
	store, _ := setupTestRedis(t)

	state, err := store.LoadState(context.Background(), "fresh")
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if state.Mood != "playful" || state.HelpfulnessLevel != gateway.DefaultHelpfulness || state.LastLine != nil {
		t.Errorf("unexpected default state: %+v", state)
	}
}

func TestSaveAndLoadState(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	line := 4
	want := gateway.DefaultSessionState().Advance(&line)
	if err := store.SaveState(ctx, "sess-1", want); err != nil {
		t.Fatalf("SaveState failed: %v", err)
	}

	got, err := store.LoadState(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if got.SuggestionsTotal != 1 || got.HostilityLevel != gateway.HostilityStep || got.LastLine == nil || *got.LastLine != 4 {
		t.Errorf("unexpected state: %+v", got)
	}

	if ttl := s.TTL("cluppo:state:sess-1"); ttl != gateway.SessionTTL {
		t.Errorf("expected ttl %s, got %s", gateway.SessionTTL, ttl)
	}

	s.FastForward(gateway.SessionTTL + time.Second)
	got, err = store.LoadState(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadState after expiry failed: %v", err)
	}
	if got.SuggestionsTotal != 0 {
		t.Errorf("expected defaults after expiry, got %+v", got)
	}
}

func TestLoadStateCorrupt(t *testing.T) {
	store, s := setupTestRedis(t)
	if err := s.Set("cluppo:state:bad", "{nope"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.LoadState(context.Background(), "bad"); err == nil {
		t.Error("expected error for corrupt state")
	}
}

func TestAppendTranscriptCapsList(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var entries []transcript.Entry
	var err error
	for i := 0; i < transcript.ServerCap+5; i++ {
		entries, err = store.AppendTranscript(ctx, "sess", transcript.NewEntry("chat", fmt.Sprintf("msg %d", i), nil, at))
		if err != nil {
			t.Fatalf("AppendTranscript %d failed: %v", i, err)
		}
	}
	if len(entries) != transcript.ServerCap {
		t.Fatalf("expected %d entries, got %d", transcript.ServerCap, len(entries))
	}
	if entries[0].Text != "msg 5" {
		t.Errorf("expected oldest kept entry msg 5, got %q", entries[0].Text)
	}
	if last := entries[len(entries)-1].Text; last != fmt.Sprintf("msg %d", transcript.ServerCap+4) {
		t.Errorf("unexpected newest entry %q", last)
	}

	stored, err := store.Transcript(ctx, "sess")
	if err != nil {
		t.Fatalf("Transcript failed: %v", err)
	}
	if len(stored) != len(entries) {
		t.Errorf("expected %d stored entries, got %d", len(entries), len(stored))
	}
	if ttl := s.TTL("cluppo:transcript:sess"); ttl != gateway.SessionTTL {
		t.Errorf("expected transcript ttl %s, got %s", gateway.SessionTTL, ttl)
	}
}

func TestTranscriptEmpty(t *testing.T) {
	store, _ := setupTestRedis(t)
	entries, err := store.Transcript(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Transcript failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestHitFixedWindow(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_010, 0)

	for i := 1; i <= gateway.DefaultRateLimit; i++ {
		d, err := store.Hit(ctx, "sess", gateway.DefaultRateLimit, gateway.DefaultRateWindow, now)
		if err != nil {
			t.Fatalf("Hit %d failed: %v", i, err)
		}
		if !d.Allowed || d.Count != int64(i) {
			t.Fatalf("request %d: unexpected decision %+v", i, d)
		}
	}

	d, err := store.Hit(ctx, "sess", gateway.DefaultRateLimit, gateway.DefaultRateWindow, now)
	if err != nil {
		t.Fatalf("Hit 21 failed: %v", err)
	}
	if d.Allowed {
		t.Fatalf("expected request 21 to be rejected: %+v", d)
	}
	if d.RetryIn != gateway.RetryIn(now, gateway.DefaultRateWindow) {
		t.Errorf("unexpected retry %d", d.RetryIn)
	}

	other, err := store.Hit(ctx, "other", gateway.DefaultRateLimit, gateway.DefaultRateWindow, now)
	if err != nil {
		t.Fatalf("Hit other failed: %v", err)
	}
	if !other.Allowed {
		t.Error("sessions must not share a window")
	}

	key := fmt.Sprintf("cluppo:ratelimit:sess:%d", gateway.Window(now, gateway.DefaultRateWindow))
	if ttl := s.TTL(key); ttl != gateway.DefaultRateWindow {
		t.Errorf("expected window ttl %s, got %s", gateway.DefaultRateWindow, ttl)
	}

	s.FastForward(gateway.DefaultRateWindow)
	if s.Exists(key) {
		t.Error("expected window key to expire")
	}
	next, err := store.Hit(ctx, "sess", gateway.DefaultRateLimit, gateway.DefaultRateWindow, now.Add(gateway.DefaultRateWindow))
	if err != nil {
		t.Fatalf("Hit next window failed: %v", err)
	}
	if !next.Allowed || next.Count != 1 {
		t.Errorf("expected fresh window, got %+v", next)
	}
}

func TestStoreErrorsWhenRedisDown(t *testing.T) {
	store, s := setupTestRedis(t)
	s.Close()

	ctx := context.Background()
	if err := store.Ping(ctx); err == nil {
		t.Error("expected ping error")
	}
	if _, err := store.LoadState(ctx, "x"); err == nil {
		t.Error("expected load error")
	}
	if _, err := store.Hit(ctx, "x", 1, time.Minute, time.Now()); err == nil {
		t.Error("expected hit error")
	}
}
