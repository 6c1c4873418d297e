package bus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-vc/internal/config"
	"github.com/loqalabs/loqa-vc/internal/natsserver"
	"github.com/nats-io/nats.go"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startClient(t *testing.T) *Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, testLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, testLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestPublishJSON(t *testing.T) {
	client := startClient(t)
	if !client.Healthy() {
		t.Fatal("expected healthy connection")
	}

	sub, err := client.Conn().SubscribeSync("vc.test")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.PublishJSON("vc.test", map[string]int{"sequence": 3}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	var got map[string]int
	if err := json.Unmarshal(msg.Data, &got); err != nil || got["sequence"] != 3 {
		t.Fatalf("unexpected payload %s (%v)", msg.Data, err)
	}
}

func TestPublishJSONRejectsOversizedPayload(t *testing.T) {
	client := startClient(t)
	big := strings.Repeat("x", int(client.Conn().MaxPayload()))
	err := client.PublishJSON("vc.test", big)
	if !errors.Is(err, nats.ErrMaxPayload) {
		t.Fatalf("expected ErrMaxPayload, got %v", err)
	}
}

func TestConnectValidation(t *testing.T) {
	if _, err := Connect(context.Background(), config.BusConfig{}, testLogger()); err == nil {
		t.Fatal("expected error without servers")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Connect(ctx, config.BusConfig{Servers: []string{"nats://127.0.0.1:1"}}, testLogger()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	c.Close()
	if c.Healthy() {
		t.Fatal("nil client must not be healthy")
	}
}
