package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-vc/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "ephemeral"})
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := es.Record(context.Background(), "s", EventStarted, nil); err != nil {
		t.Fatalf("record on ephemeral store: %v", err)
	}
	if _, err := es.GetSession(context.Background(), "s"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConversionTimeline(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "session"})

	if err := es.StartSession(ctx, Session{ID: "conv-1", Transport: "bus", Profile: "f0", ReferencePath: "ref.wav"}); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := es.Record(ctx, "conv-1", EventStarted, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	for seq := 0; seq < 3; seq++ {
		if err := es.Record(ctx, "conv-1", EventChunk, map[string]int{"sequence": seq}); err != nil {
			t.Fatalf("record chunk: %v", err)
		}
	}
	if err := es.FinishSession(ctx, "conv-1", EventCompleted); err != nil {
		t.Fatalf("finish: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, "conv-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 4 || events[0].Type != EventStarted {
		t.Fatalf("unexpected events %+v", events)
	}
	var payload map[string]int
	if err := json.Unmarshal(events[3].Payload, &payload); err != nil || payload["sequence"] != 2 {
		t.Fatalf("unexpected chunk payload %s", events[3].Payload)
	}

	sess, err := es.GetSession(ctx, "conv-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.Profile != "f0" || sess.Outcome != EventCompleted || sess.FinishedAt.IsZero() {
		t.Fatalf("unexpected session %+v", sess)
	}
}

func TestFinishUnknownSession(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "session"})
	if err := es.FinishSession(context.Background(), "missing", EventFailed); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1})

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.StartSession(ctx, Session{ID: "old-session"}); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := es.Record(ctx, "old-session", EventStarted, nil); err != nil {
		t.Fatalf("record: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.StartSession(ctx, Session{ID: "new-session"}); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned")
	}
	if _, err := es.GetSession(ctx, "new-session"); err != nil {
		t.Fatalf("expected new session kept: %v", err)
	}
}
