package events

import (
	"context"
	"sync"
)

// ProgressUpdate is one push-channel message emitted on every stage
// transition and on finalization.
type ProgressUpdate struct {
	SessionID       string `json:"session_id"`
	ChainID         string `json:"chain_id"`
	CurrentStage    string `json:"current_stage"`
	TotalStages     int    `json:"total_stages"`
	CompletedStages int    `json:"completed_stages"`
	Status          string `json:"status"`
}

// ProgressHub fans session progress out to per-session watchers. It is the
// in-process default for the progress stream; a WebSocket or SSE edge would
// wrap it. Implements Subscriber: lifecycle events carrying progress fields
// become ProgressUpdates, everything else is ignored.
type ProgressHub struct {
	mu       sync.RWMutex
	watchers map[string][]chan ProgressUpdate
}

// NewProgressHub creates an empty hub.
func NewProgressHub() *ProgressHub {
	return &ProgressHub{watchers: make(map[string][]chan ProgressUpdate)}
}

// Watch returns a channel receiving progress updates for the session, and a
// cancel function that unregisters the watcher and closes the channel.
// Updates to a slow watcher are dropped rather than stalling the bus.
func (h *ProgressHub) Watch(sessionID string) (<-chan ProgressUpdate, func()) {
	ch := make(chan ProgressUpdate, 16)

	h.mu.Lock()
	h.watchers[sessionID] = append(h.watchers[sessionID], ch)
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		chans := h.watchers[sessionID]
		for i, c := range chans {
			if c == ch {
				h.watchers[sessionID] = append(chans[:i], chans[i+1:]...)
				close(ch)
				break
			}
		}
		if len(h.watchers[sessionID]) == 0 {
			delete(h.watchers, sessionID)
		}
	}
	return ch, cancel
}

// HandleEvent implements Subscriber.
func (h *ProgressHub) HandleEvent(_ context.Context, event Event) error {
	e, ok := event.(*SessionLifecycleEvent)
	if !ok || e.TotalStages == 0 {
		return nil
	}

	update := ProgressUpdate{
		SessionID:       e.SessionID,
		ChainID:         e.ChainID,
		CurrentStage:    e.CurrentStage,
		TotalStages:     e.TotalStages,
		CompletedStages: e.CompletedStages,
		Status:          e.Status,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.watchers[e.SessionID] {
		select {
		case ch <- update:
		default:
		}
	}
	return nil
}
