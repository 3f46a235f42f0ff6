package metrics

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mjasion/balena-home/dashboard/pkg/buffer"
	"github.com/mjasion/balena-home/dashboard/pkg/types"
	"go.uber.org/zap"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status           string     `json:"status"`
	LastPollTime     time.Time  `json:"lastPollTime"`
	LastPushTime     *time.Time `json:"lastPushTime,omitempty"`
	BufferedReadings int        `json:"bufferedReadings"`
	OfflineCache     string     `json:"offlineCache,omitempty"`
}

// HealthChecker reports whether backend polling is keeping up
type HealthChecker struct {
	lastPoll   func() time.Time
	pollPeriod time.Duration
	started    time.Time
	now        func() time.Time

	buffer     *buffer.RingBuffer[*types.Reading]
	pusher     *Pusher
	cachePhase func() string

	logger *zap.Logger
}

// NewHealthChecker creates a HealthChecker. The service turns unhealthy
// when no poll has succeeded for more than three times pollPeriod.
func NewHealthChecker(lastPoll func() time.Time, pollPeriod time.Duration, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		lastPoll:   lastPoll,
		pollPeriod: pollPeriod,
		started:    time.Now(),
		now:        time.Now,
		logger:     logger,
	}
}

// WithExport adds remote_write buffer and push details to the report
func (hc *HealthChecker) WithExport(buf *buffer.RingBuffer[*types.Reading], pusher *Pusher) *HealthChecker {
	hc.buffer = buf
	hc.pusher = pusher
	return hc
}

// WithOfflineCache adds the offline cache phase to the report
func (hc *HealthChecker) WithOfflineCache(phase func() string) *HealthChecker {
	hc.cachePhase = phase
	return hc
}

// Check builds the current health report
func (hc *HealthChecker) Check() (HealthStatus, bool) {
	lastPoll := hc.lastPoll()
	status := HealthStatus{Status: "healthy", LastPollTime: lastPoll}

	if hc.buffer != nil {
		status.BufferedReadings = hc.buffer.Size()
	}
	if hc.pusher != nil {
		if lastPush := hc.pusher.LastPushTime(); !lastPush.IsZero() {
			status.LastPushTime = &lastPush
		}
	}
	if hc.cachePhase != nil {
		status.OfflineCache = hc.cachePhase()
	}

	// before the first success, measure from start so a slow boot is not
	// reported as an outage
	reference := lastPoll
	if reference.IsZero() {
		reference = hc.started
	}
	healthy := hc.now().Sub(reference) <= 3*hc.pollPeriod
	if !healthy {
		status.Status = "unhealthy"
	}
	return status, healthy
}

// ServeHTTP responds to health check requests
func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status, healthy := hc.Check()

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		hc.logger.Warn("health check failing",
			zap.Time("last_poll", status.LastPollTime),
			zap.Duration("poll_period", hc.pollPeriod),
		)
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		hc.logger.Debug("failed to write health response", zap.Error(err))
	}
}
