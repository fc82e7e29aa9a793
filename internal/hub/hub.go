// Package hub implements the Progress Hub: per-job and all-jobs
// subscriber registries fed by a long-running consumer on the progress
// exchange, fanning events out to websocket subscribers and pruning any
// subscriber whose send fails.
package hub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/GermaMirn/LineGuard-AI/internal/metrics"
	"github.com/GermaMirn/LineGuard-AI/internal/model"
	"github.com/GermaMirn/LineGuard-AI/internal/queue"
	"github.com/GermaMirn/LineGuard-AI/internal/sklog"
)

var activeSubscribers = metrics.GetGauge("analysis_hub_active_subscribers", nil)

// Sink is one subscriber's delivery channel. A failing Send means the
// subscriber is gone; the Hub removes it and never retries.
type Sink interface {
	Send(evt model.ProgressEvent) error
}

// Hub maintains the per_job and all_jobs subscriber registries.
type Hub struct {
	mu      sync.Mutex
	perJob  map[uuid.UUID]map[Sink]struct{}
	allJobs map[Sink]struct{}
	count   int
}

// New builds an empty Hub.
func New() *Hub {
	return &Hub{
		perJob:  make(map[uuid.UUID]map[Sink]struct{}),
		allJobs: make(map[Sink]struct{}),
	}
}

// Subscribe registers sink for a specific job's events. A nil jobID
// registers sink for the "all jobs" history view.
func (h *Hub) Subscribe(jobID *uuid.UUID, sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if jobID == nil {
		h.allJobs[sink] = struct{}{}
		h.count++
		activeSubscribers.Update(float64(h.count))
		return
	}
	set, ok := h.perJob[*jobID]
	if !ok {
		set = make(map[Sink]struct{})
		h.perJob[*jobID] = set
	}
	set[sink] = struct{}{}
	h.count++
	activeSubscribers.Update(float64(h.count))
}

// Unsubscribe removes sink from every registry it was registered in.
func (h *Hub) Unsubscribe(sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.allJobs[sink]; ok {
		delete(h.allJobs, sink)
		h.count--
	}
	for jobID, set := range h.perJob {
		if _, ok := set[sink]; ok {
			delete(set, sink)
			h.count--
		}
		if len(set) == 0 {
			delete(h.perJob, jobID)
		}
	}
	activeSubscribers.Update(float64(h.count))
}

// Fanout writes evt to every sink registered for evt.JobID and to every
// all-jobs sink; any sink whose write fails is removed.
func (h *Hub) Fanout(evt model.ProgressEvent) {
	h.mu.Lock()
	targets := make([]Sink, 0, len(h.allJobs))
	for s := range h.perJob[evt.JobID] {
		targets = append(targets, s)
	}
	for s := range h.allJobs {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	var dead []Sink
	for _, s := range targets {
		if err := s.Send(evt); err != nil {
			dead = append(dead, s)
		}
	}
	for _, s := range dead {
		h.Unsubscribe(s)
	}
}

// Run drains the progress exchange (via a transient subscriber queue) and
// calls Fanout for every parseable event; a message that fails to parse
// is dropped.
func (h *Hub) Run(ctx context.Context, q *queue.Queue) error {
	deliveries, cleanup, err := q.SubscribeProgress(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			var evt model.ProgressEvent
			if err := json.Unmarshal(d.Body, &evt); err != nil {
				sklog.Warningf("dropping unparseable progress event: %v", err)
				continue
			}
			h.Fanout(evt)
		}
	}
}
