// Package updates decides when widget instances are asked for fresh data.
// It coalesces bursts of requests, throttles per-instance dispatch rate,
// and drops excess pending work so a slow or chatty widget cannot starve
// the host loop or the IPC channel.
package updates

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hearthboard/hearth/internal/events"
	"github.com/hearthboard/hearth/internal/log"
)

// DefaultTickInterval is how often the scheduler examines pending work.
const DefaultTickInterval = 50 * time.Millisecond

// ThrottleConfig bounds how eagerly one instance may be updated.
type ThrottleConfig struct {
	// MinInterval is the minimum time between two dispatches.
	MinInterval time.Duration
	// MaxPending caps how many requests may pile up on one pending entry
	// before new ones are dropped.
	MaxPending int
	// CoalesceWindow is how long after a request newer requests merge
	// into it instead of replacing it.
	CoalesceWindow time.Duration
}

// DefaultThrottleConfig returns the throttle applied when the placement
// layer supplies nothing.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		MinInterval:    1000 * time.Millisecond,
		MaxPending:     3,
		CoalesceWindow: 100 * time.Millisecond,
	}
}

// Request is one pending update. It lives from the first request until
// the scheduler dispatches it or a caller clears it.
type Request struct {
	InstanceID     string
	Reason         string
	RequestedAt    time.Time
	CoalescedCount int
}

// Listener receives dispatched updates in tick order.
type Listener func(instanceID, reason string)

// Scheduler throttles and coalesces update requests. It owns its pending
// map exclusively; collaborators only talk to it through these methods.
type Scheduler struct {
	mu           sync.Mutex
	configs      map[string]ThrottleConfig
	lastDispatch map[string]time.Time
	pending      map[string]*Request
	visible      map[string]struct{}
	listeners    []Listener

	tickInterval time.Duration
	hub          *events.Hub
	logger       *slog.Logger
}

// New creates a scheduler. hub may be nil when no event surface is wanted.
func New(hub *events.Hub) *Scheduler {
	return &Scheduler{
		configs:      make(map[string]ThrottleConfig),
		lastDispatch: make(map[string]time.Time),
		pending:      make(map[string]*Request),
		visible:      make(map[string]struct{}),
		tickInterval: DefaultTickInterval,
		hub:          hub,
		logger:       log.WithComponent("updates"),
	}
}

// OnDispatch registers a listener for dispatched updates. Must be called
// before Start.
func (s *Scheduler) OnDispatch(l Listener) {
	s.listeners = append(s.listeners, l)
}

// SetTickInterval overrides the dispatch loop period, typically from the
// host config. Must be called before Start; non-positive values are
// ignored.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	if d > 0 {
		s.tickInterval = d
	}
}

// SetThrottleConfig sets the per-instance throttle, typically from the
// widget's manifest or the placement layer.
func (s *Scheduler) SetThrottleConfig(instanceID string, cfg ThrottleConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[instanceID] = cfg
}

// RequestUpdate asks for an update of one instance. Rapid repeats coalesce
// into the existing pending entry; once the entry has absorbed MaxPending
// requests, further ones are dropped until the next dispatch.
func (s *Scheduler) RequestUpdate(instanceID, reason string) {
	s.requestUpdateAt(instanceID, reason, time.Now())
}

func (s *Scheduler) requestUpdateAt(instanceID, reason string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.configFor(instanceID)
	if req, ok := s.pending[instanceID]; ok {
		if now.Sub(req.RequestedAt) < cfg.CoalesceWindow {
			req.CoalescedCount++
			s.logger.Debug("coalesced update request",
				"instance_id", instanceID, "count", req.CoalescedCount)
			return
		}
		if req.CoalescedCount >= cfg.MaxPending {
			s.logger.Warn("dropping update request, queue full", "instance_id", instanceID)
			return
		}
	}

	s.pending[instanceID] = &Request{
		InstanceID:  instanceID,
		Reason:      reason,
		RequestedAt: now,
	}
	s.logger.Debug("update requested", "instance_id", instanceID, "reason", reason)
}

// SetVisibleInstances replaces the set of instances the placement layer
// currently shows. Visible instances dispatch first on each tick.
func (s *Scheduler) SetVisibleInstances(instanceIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visible = make(map[string]struct{}, len(instanceIDs))
	for _, id := range instanceIDs {
		s.visible[id] = struct{}{}
	}
}

// ClearPending drops any pending request for the instance.
func (s *Scheduler) ClearPending(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, instanceID)
}

// ResetThrottle forgets the instance's last dispatch time so the next
// pending request dispatches on the very next tick.
func (s *Scheduler) ResetThrottle(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lastDispatch, instanceID)
}

// Pending returns the pending request for an instance, or nil. Intended
// for the ops surface and tests.
func (s *Scheduler) Pending(instanceID string) *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.pending[instanceID]
	if !ok {
		return nil
	}
	copied := *req
	return &copied
}

// Start runs the tick loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("update scheduler started", "tick_interval", s.tickInterval)
	defer s.logger.Info("update scheduler stopped")

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(time.Now())
		}
	}
}

// tick dispatches every pending request whose throttle has elapsed,
// visible instances first. Listeners run outside the lock so they may
// re-enter RequestUpdate.
func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()

	ordered := make([]*Request, 0, len(s.pending))
	for _, req := range s.pending {
		ordered = append(ordered, req)
	}
	sort.Slice(ordered, func(i, j int) bool {
		_, iVis := s.visible[ordered[i].InstanceID]
		_, jVis := s.visible[ordered[j].InstanceID]
		if iVis != jVis {
			return iVis
		}
		if !ordered[i].RequestedAt.Equal(ordered[j].RequestedAt) {
			return ordered[i].RequestedAt.Before(ordered[j].RequestedAt)
		}
		return ordered[i].InstanceID < ordered[j].InstanceID
	})

	var dispatched []*Request
	for _, req := range ordered {
		cfg := s.configFor(req.InstanceID)
		if last, ok := s.lastDispatch[req.InstanceID]; ok {
			if now.Sub(last) < cfg.MinInterval {
				continue
			}
		}
		s.lastDispatch[req.InstanceID] = now
		delete(s.pending, req.InstanceID)
		dispatched = append(dispatched, req)
	}
	s.mu.Unlock()

	for _, req := range dispatched {
		s.logger.Debug("dispatching update",
			"instance_id", req.InstanceID, "reason", req.Reason,
			"coalesced", req.CoalescedCount)
		for _, l := range s.listeners {
			l(req.InstanceID, req.Reason)
		}
		if s.hub != nil {
			s.hub.Publish(events.TypeDispatched, map[string]any{
				"instance_id": req.InstanceID,
				"reason":      req.Reason,
				"coalesced":   req.CoalescedCount,
			})
		}
	}
}

// configFor assumes s.mu is held.
func (s *Scheduler) configFor(instanceID string) ThrottleConfig {
	if cfg, ok := s.configs[instanceID]; ok {
		return cfg
	}
	return DefaultThrottleConfig()
}
