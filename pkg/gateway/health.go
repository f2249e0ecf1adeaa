package gateway

import (
	"errors"
	"maps"
	"sync"
	"time"

	"homevoice/pkg/command"
)

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status         string                  `json:"status"`
	UptimeSeconds  int64                   `json:"uptime_seconds"`
	SubmitLastOKAt string                  `json:"submit_last_ok_at,omitempty"`
	SubmitLastErr  string                  `json:"submit_last_error,omitempty"`
	Channels       map[string]channelState `json:"channels"`
}

// health is what /healthz and /readyz report.
type health struct {
	mu       sync.RWMutex
	started  time.Time
	lastOK   time.Time
	lastErr  string
	channels map[string]channelState
}

func newHealth(names ...string) *health {
	h := &health{channels: make(map[string]channelState, len(names))}
	for _, name := range names {
		h.channels[name] = channelState{}
	}
	return h
}

func (h *health) start(now time.Time) {
	h.mu.Lock()
	h.started = now.UTC()
	h.mu.Unlock()
}

func (h *health) channel(name string, running bool, err error) {
	state := channelState{Running: running}
	if err != nil {
		state.Error = err.Error()
	}

	h.mu.Lock()
	h.channels[name] = state
	h.mu.Unlock()
}

// submitted records a submission result. Rejected input says nothing about
// the pipeline and leaves the record unchanged.
func (h *health) submitted(err error, now time.Time) {
	if errors.Is(err, command.ErrInvalidInput) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.lastErr = err.Error()
		return
	}
	h.lastErr = ""
	h.lastOK = now.UTC()
}

// ready requires a started gateway, every channel running and the last
// submission to have reached the pipeline.
func (h *health) ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.started.IsZero() || h.lastErr != "" {
		return false
	}
	for _, state := range h.channels {
		if !state.Running {
			return false
		}
	}
	return true
}

func (h *health) report(status string) statusResponse {
	h.mu.RLock()
	defer h.mu.RUnlock()

	resp := statusResponse{
		Status:        status,
		SubmitLastErr: h.lastErr,
		Channels:      maps.Clone(h.channels),
	}
	if !h.started.IsZero() {
		resp.UptimeSeconds = int64(time.Since(h.started).Seconds())
	}
	if !h.lastOK.IsZero() {
		resp.SubmitLastOKAt = h.lastOK.Format(time.RFC3339)
	}
	return resp
}
