// Package livefeed pushes the breaker's hourly performance report to
// connected websocket clients. Adapted from the connection-map/broadcast
// pattern used for dashboard updates elsewhere in this module's lineage:
// an upgrader accepts clients into a guarded map, and a ticker goroutine
// periodically marshals a report and writes it to every connection.
package livefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Report is one published snapshot of breaker performance.
type Report struct {
	Timestamp  time.Time `json:"timestamp"`
	Breaker    string    `json:"breaker"`
	State      string    `json:"state"`
	Summary    string    `json:"summary"`
	Predicted  float64   `json:"predicted"`
	Actual     float64   `json:"actual"`
	AvgError   float64   `json:"avg_error"`
	WindowSize int       `json:"window_size"`
}

// Source supplies the data a Feed publishes. The orchestrator implements
// this in terms of its own state and performance monitor.
type Source interface {
	CurrentReport() Report
}

// Feed accepts websocket clients and periodically broadcasts Source's
// report to all of them.
type Feed struct {
	source Source
	period time.Duration
	logger zerolog.Logger

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*websocket.Conn

	cancel context.CancelFunc
}

// New creates a Feed. period is how often a report is broadcast; it is not
// started until Start is called.
func New(source Source, period time.Duration, logger zerolog.Logger) *Feed {
	if period <= 0 {
		period = time.Hour
	}
	return &Feed{
		source:  source,
		period:  period,
		logger:  logger,
		clients: make(map[string]*websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler upgrades incoming requests and registers them as broadcast
// targets until the connection closes.
func (f *Feed) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Error().Err(err).Msg("livefeed: websocket upgrade failed")
		return
	}

	clientID := fmt.Sprintf("client-%d", time.Now().UnixNano())
	f.mu.Lock()
	f.clients[clientID] = conn
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.clients, clientID)
		f.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Start runs the broadcast loop until ctx is canceled or Stop is called.
func (f *Feed) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	ticker := time.NewTicker(f.period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.broadcast()
			}
		}
	}()
}

// Stop ends the broadcast loop started by Start.
func (f *Feed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
}

func (f *Feed) broadcast() {
	report := f.source.CurrentReport()
	payload, err := json.Marshal(report)
	if err != nil {
		f.logger.Error().Err(err).Msg("livefeed: marshal report failed")
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for id, conn := range f.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			f.logger.Warn().Err(err).Str("client", id).Msg("livefeed: write failed")
		}
	}
}
