// Package redissink implements breaker.MetricSink and breaker.ModelSink on
// top of Redis: metric snapshots are pushed onto a per-breaker capped list,
// and the model blob is stored under a single key. Adapted from the
// redis.Client/LPush/LRange queue pattern used elsewhere in this module's
// lineage for task queues, repurposed here for time-ordered metric history.
package redissink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/khryptorgraphics/adaptivebreaker/pkg/metrics"
)

const (
	historyCap = 10000
	historyTTL = 7 * 24 * time.Hour
	modelTTL   = 30 * 24 * time.Hour
)

// Sink is a Redis-backed MetricSink and ModelSink.
type Sink struct {
	client *redis.Client
}

// New wraps an already-configured redis.Client.
func New(client *redis.Client) *Sink {
	return &Sink{client: client}
}

func historyKey(breakerName string) string {
	return fmt.Sprintf("adaptivebreaker:%s:history", breakerName)
}

func modelKey(serviceName string) string {
	return fmt.Sprintf("adaptivebreaker:%s:model", serviceName)
}

type storedSnapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	P95LatencyNs int64    `json:"p95_latency_ns"`
	ErrorRate   float64   `json:"error_rate"`
	Concurrency float64   `json:"concurrency"`
	SystemLoad  float64   `json:"system_load"`
}

// Store pushes snapshot onto the head of the breaker's history list (newest
// first), trims the list to historyCap entries, and refreshes its TTL.
func (s *Sink) Store(ctx context.Context, snapshot metrics.MetricSnapshot, breakerName string) error {
	key := historyKey(breakerName)
	payload, err := json.Marshal(storedSnapshot{
		Timestamp:    time.Now(),
		P95LatencyNs: int64(snapshot.P95Latency),
		ErrorRate:    snapshot.ErrorRate,
		Concurrency:  snapshot.Concurrency,
		SystemLoad:   snapshot.SystemLoad,
	})
	if err != nil {
		return fmt.Errorf("redissink: marshal snapshot: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, historyCap-1)
	pipe.Expire(ctx, key, historyTTL)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redissink: store snapshot: %w", err)
	}
	return nil
}

// LoadHistorical reads up to historyCap snapshots stored within lookback.
func (s *Sink) LoadHistorical(ctx context.Context, breakerName string, lookback time.Duration) ([]metrics.MetricSnapshot, error) {
	key := historyKey(breakerName)
	raw, err := s.client.LRange(ctx, key, 0, historyCap-1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redissink: load history: %w", err)
	}

	cutoff := time.Now().Add(-lookback)
	result := make([]metrics.MetricSnapshot, 0, len(raw))
	for _, item := range raw {
		var stored storedSnapshot
		if err := json.Unmarshal([]byte(item), &stored); err != nil {
			continue
		}
		if stored.Timestamp.Before(cutoff) {
			continue
		}
		result = append(result, metrics.MetricSnapshot{
			P95Latency:  time.Duration(stored.P95LatencyNs),
			ErrorRate:   stored.ErrorRate,
			SuccessRate: 1 - stored.ErrorRate,
			Concurrency: stored.Concurrency,
			SystemLoad:  stored.SystemLoad,
		})
	}
	return result, nil
}

// Shutdown closes the underlying Redis client.
func (s *Sink) Shutdown(ctx context.Context) error {
	return s.client.Close()
}

// Save stores modelBytes under the service's model key with an expiry.
func (s *Sink) Save(ctx context.Context, modelBytes []byte, serviceName string) error {
	if err := s.client.Set(ctx, modelKey(serviceName), modelBytes, modelTTL).Err(); err != nil {
		return fmt.Errorf("redissink: save model: %w", err)
	}
	return nil
}

// Load reads the model blob for serviceName, reporting ok=false if absent.
func (s *Sink) Load(ctx context.Context, serviceName string) ([]byte, bool, error) {
	blob, err := s.client.Get(ctx, modelKey(serviceName)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redissink: load model: %w", err)
	}
	return blob, true, nil
}
