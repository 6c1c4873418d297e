// Package capability tracks the conversion workers reachable on the bus.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/loqalabs/loqa-vc/internal/bus"
	"github.com/loqalabs/loqa-vc/internal/config"
	"github.com/loqalabs/loqa-vc/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type NodeInfo struct {
	ID           string
	Capabilities []protocol.Capability
	LastSeen     time.Time
	Busy         bool
	Healthy      bool
}

// Registry announces the local worker, heartbeats while it runs and keeps
// the last known state of every peer.
type Registry struct {
	cfg    config.NodeConfig
	log    *slog.Logger
	bus    *bus.Client
	local  []protocol.Capability
	busy   func() bool
	mu     sync.RWMutex
	nodes  map[string]*NodeInfo
	cancel context.CancelFunc
	subs   []*nats.Subscription
	wg     sync.WaitGroup
	meter  metric.Meter
	now    func() time.Time
}

// Capabilities describes the conversion profiles served with cfg.
func Capabilities(cfg config.Config) []protocol.Capability {
	profile := func(name string, p config.ProfileConfig) protocol.Capability {
		return protocol.Capability{
			Name: name,
			Attributes: map[string]string{
				"sample_rate": strconv.Itoa(p.SampleRate),
				"hop":         strconv.Itoa(p.Hop),
				"format":      cfg.Conversion.Format,
				"backend":     cfg.Models.Backend,
			},
		}
	}
	return []protocol.Capability{
		profile("vc.plain", cfg.Profiles.Plain),
		profile("vc.f0", cfg.Profiles.F0),
	}
}

// NewRegistry subscribes to peer announcements and starts heartbeating.
// busy may be nil.
func NewRegistry(ctx context.Context, cfg config.NodeConfig, busClient *bus.Client, local []protocol.Capability, busy func() bool, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	if busy == nil {
		busy = func() bool { return false }
	}
	r := &Registry{
		cfg:    cfg,
		log:    log.With(slog.String("component", "capability-registry")),
		bus:    busClient,
		local:  local,
		busy:   busy,
		nodes:  make(map[string]*NodeInfo),
		meter:  otel.Meter("github.com/loqalabs/loqa-vc/internal/capability"),
		cancel: cancel,
		now:    time.Now,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slogError(err))
	}

	if err := r.subscribe(); err != nil {
		r.Close()
		return nil, err
	}

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce node", slogError(err))
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()

	return r, nil
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
	r.subs = nil
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectNodeAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectNodeHeartbeat+".*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)
	return nil
}

func (r *Registry) run(ctx context.Context) {
	heartbeat := time.NewTicker(time.Duration(r.cfg.HeartbeatInterval) * time.Millisecond)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slogError(err))
			}
			r.evaluateHealth()
		}
	}
}

func (r *Registry) announce() error {
	msg := protocol.NodeAnnounce{
		NodeID:       r.cfg.ID,
		Capabilities: r.local,
		Timestamp:    r.now().UTC(),
	}
	if err := r.bus.PublishJSON(protocol.SubjectNodeAnnounce, msg); err != nil {
		return err
	}
	r.updateNode(msg.NodeID, msg.Capabilities, msg.Timestamp, false)
	return nil
}

func (r *Registry) publishHeartbeat() error {
	msg := protocol.NodeHeartbeat{
		NodeID:    r.cfg.ID,
		Busy:      r.busy(),
		Timestamp: r.now().UTC(),
	}
	subject := fmt.Sprintf("%s.%s", protocol.SubjectNodeHeartbeat, r.cfg.ID)
	if err := r.bus.PublishJSON(subject, msg); err != nil {
		return err
	}
	r.updateNode(msg.NodeID, nil, msg.Timestamp, msg.Busy)
	return nil
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement protocol.NodeAnnounce
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		r.log.Warn("invalid announce message", slogError(err))
		return
	}
	if announcement.NodeID == "" {
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = r.now().UTC()
	}
	r.mu.RLock()
	_, known := r.nodes[announcement.NodeID]
	r.mu.RUnlock()
	r.updateNode(announcement.NodeID, announcement.Capabilities, announcement.Timestamp, false)

	// Late joiners learn our capabilities from a reply announcement.
	if !known && announcement.NodeID != r.cfg.ID {
		if err := r.announce(); err != nil {
			r.log.Warn("failed to answer announce", slogError(err))
		}
	}
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb protocol.NodeHeartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slogError(err))
		return
	}
	if hb.NodeID == "" {
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = r.now().UTC()
	}
	r.updateNode(hb.NodeID, nil, hb.Timestamp, hb.Busy)
}

func (r *Registry) updateNode(nodeID string, capabilities []protocol.Capability, seen time.Time, busy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		node = &NodeInfo{ID: nodeID}
		r.nodes[nodeID] = node
	}
	if len(capabilities) > 0 {
		node.Capabilities = capabilities
	}
	if seen.After(node.LastSeen) {
		node.LastSeen = seen
	}
	node.Busy = busy
	node.Healthy = true
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeout) * time.Millisecond
	now := r.now()
	for _, node := range r.nodes {
		if now.Sub(node.LastSeen) > timeout {
			node.Healthy = false
		}
	}
}

// Healthy reports whether the local node is still heartbeating.
func (r *Registry) Healthy() bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[r.cfg.ID]
	return ok && node.Healthy
}

// Query returns the known nodes accepted by every filter, ordered by id.
func (r *Registry) Query(filters ...func(NodeInfo) bool) []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []NodeInfo
nodes:
	for _, node := range r.nodes {
		info := *node
		for _, keep := range filters {
			if !keep(info) {
				continue nodes
			}
		}
		results = append(results, info)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

func (r *Registry) initMetrics() error {
	nodes, err := r.meter.Int64ObservableGauge("loqa.vc.nodes", metric.WithDescription("Healthy conversion workers"))
	if err != nil {
		return err
	}
	busy, err := r.meter.Int64ObservableGauge("loqa.vc.nodes.busy", metric.WithDescription("Conversion workers running a conversion"))
	if err != nil {
		return err
	}
	_, err = r.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		healthy, running := r.snapshotCounts()
		obs.ObserveInt64(nodes, healthy)
		obs.ObserveInt64(busy, running)
		return nil
	}, nodes, busy)
	return err
}

func (r *Registry) snapshotCounts() (healthy, busy int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, node := range r.nodes {
		if !node.Healthy {
			continue
		}
		healthy++
		if node.Busy {
			busy++
		}
	}
	return healthy, busy
}

func WithCapabilityFilter(name string) func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		for _, c := range node.Capabilities {
			if c.Name == name {
				return true
			}
		}
		return false
	}
}

// Available keeps healthy nodes that are not converting.
func Available(node NodeInfo) bool {
	return node.Healthy && !node.Busy
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
