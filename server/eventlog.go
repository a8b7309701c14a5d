package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// maxRetainedEvents bounds the in-memory event ring.
const maxRetainedEvents = 1000

// Event is one record in the JSON analytics log.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"event_type"`
	JobID     string         `json:"job_id,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// eventLogFile is the on-disk structure: the recent events plus a current
// snapshot of pool statistics, rewritten atomically on every flush.
type eventLogFile struct {
	ServerStartTime time.Time `json:"server_start_time"`
	ServerUptime    float64   `json:"server_uptime_seconds"`
	LastUpdate      time.Time `json:"last_update"`
	Events          []Event   `json:"events"`
	CurrentSnapshot PoolStats `json:"current_snapshot"`
}

// EventLog accumulates search events in memory and periodically flushes them
// to a JSON file together with a stats snapshot, for offline analysis of
// what the service has been asked to compute.
type EventLog struct {
	log            *slog.Logger
	filePath       string
	updateInterval time.Duration
	stats          func() PoolStats
	startTime      time.Time

	mu     sync.Mutex
	events []Event
}

// NewEventLog creates an event log flushing to filePath every
// updateInterval. stats is sampled at flush time for the snapshot section.
func NewEventLog(filePath string, updateInterval time.Duration, stats func() PoolStats, log *slog.Logger) *EventLog {
	return &EventLog{
		log:            log,
		filePath:       filePath,
		updateInterval: updateInterval,
		stats:          stats,
		startTime:      time.Now(),
	}
}

// Record appends an event, evicting the oldest once the ring is full.
func (el *EventLog) Record(eventType, jobID, message string, details map[string]any) {
	el.mu.Lock()
	defer el.mu.Unlock()

	el.events = append(el.events, Event{
		Timestamp: time.Now(),
		EventType: eventType,
		JobID:     jobID,
		Message:   message,
		Details:   details,
	})
	if len(el.events) > maxRetainedEvents {
		el.events = el.events[len(el.events)-maxRetainedEvents:]
	}
}

// NotifyJob implements jobNotifier: every finished job becomes an event.
func (el *EventLog) NotifyJob(view JobView) {
	eventType := "job_done"
	message := fmt.Sprintf("job finished with nonce %d", view.Nonce)
	if view.State == JobFailed {
		eventType = "job_failed"
		message = view.Error
	}

	el.Record(eventType, view.ID, message, map[string]any{
		"workers": view.Workers,
		"hashes":  view.Hashes,
		"status":  view.Status,
	})
}

// Run flushes periodically until the context is cancelled, then writes one
// final flush so shutdown does not lose events.
func (el *EventLog) Run(ctx context.Context) {
	ticker := time.NewTicker(el.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := el.Flush(); err != nil {
				el.log.Error("final event log flush failed", "error", err)
			}
			return
		case <-ticker.C:
			if err := el.Flush(); err != nil {
				el.log.Error("event log flush failed", "error", err)
			}
		}
	}
}

// Flush writes the current state to the log file via a rename so readers
// never observe a partial file.
func (el *EventLog) Flush() error {
	el.mu.Lock()
	events := make([]Event, len(el.events))
	copy(events, el.events)
	el.mu.Unlock()

	out := eventLogFile{
		ServerStartTime: el.startTime,
		ServerUptime:    time.Since(el.startTime).Seconds(),
		LastUpdate:      time.Now(),
		Events:          events,
		CurrentSnapshot: el.stats(),
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding event log: %w", err)
	}

	tmp := el.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing event log: %w", err)
	}
	if err := os.Rename(tmp, el.filePath); err != nil {
		return fmt.Errorf("replacing event log: %w", err)
	}
	return nil
}
