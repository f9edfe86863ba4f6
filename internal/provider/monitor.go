package provider

import (
	"strings"
	"sync"
	"time"
)

// ClientStatus represents the health state of a generation provider as
// seen from this client.
type ClientStatus int

const (
	StatusHealthy   ClientStatus = iota // Provider is working normally
	StatusDegraded                      // Provider is slow but working
	StatusThrottled                     // Provider is rate limiting
	StatusBlocked                       // Provider has blocked this client
)

// MonitorStats holds monitoring statistics for a provider client.
type MonitorStats struct {
	Status           ClientStatus
	AverageLatency   time.Duration
	ThrottleCount429 int
	ThrottleCount403 int
	RequestsLastHour int
}

// Monitor tracks latency and rate limiting for one provider client.
type Monitor struct {
	mu sync.RWMutex

	recentLatencies  []time.Duration
	maxLatencyWindow int

	status429Count     int
	status403Count     int
	throttlePatterns   []string
	lastThrottleTime   time.Time
	retryAfterDuration time.Duration

	requestTimestamps []time.Time

	slowResponseThreshold time.Duration
}

// NewMonitor creates a monitor with default settings.
func NewMonitor() *Monitor {
	return &Monitor{
		recentLatencies:  make([]time.Duration, 0, 100),
		maxLatencyWindow: 100,
		throttlePatterns: []string{
			"rate limit exceeded",
			"too many requests",
			"daily request count exceeded",
			"monthly quota exceeded",
			"concurrent request limit",
		},
		slowResponseThreshold: 10 * time.Second,
	}
}

// RecordRequest records a successful request with its latency.
func (m *Monitor) RecordRequest(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	m.recentLatencies = append(m.recentLatencies, latency)
	if len(m.recentLatencies) > m.maxLatencyWindow {
		m.recentLatencies = m.recentLatencies[1:]
	}

	m.requestTimestamps = append(m.requestTimestamps, now)
	cutoff := now.Add(-time.Hour)
	for len(m.requestTimestamps) > 0 && m.requestTimestamps[0].Before(cutoff) {
		m.requestTimestamps = m.requestTimestamps[1:]
	}
}

// RecordThrottle records a rate limiting or blocking response.
func (m *Monitor) RecordThrottle(statusCode int, retryAfter time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastThrottleTime = time.Now()

	switch statusCode {
	case 429:
		m.status429Count++
		if retryAfter <= 0 {
			retryAfter = time.Minute
		}
		m.retryAfterDuration = retryAfter
	case 403:
		m.status403Count++
		m.retryAfterDuration = 10 * time.Minute
	}
}

// DetectThrottlePattern checks if a response body hints at throttling.
func (m *Monitor) DetectThrottlePattern(message string) bool {
	lower := strings.ToLower(message)
	for _, pattern := range m.throttlePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// Status returns the current status of the provider.
func (m *Monitor) Status() ClientStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.status403Count > 0 && time.Since(m.lastThrottleTime) < m.retryAfterDuration {
		return StatusBlocked
	}

	if m.status429Count > 0 && time.Since(m.lastThrottleTime) < m.retryAfterDuration {
		return StatusThrottled
	}

	if len(m.recentLatencies) > 10 {
		var total time.Duration
		for _, lat := range m.recentLatencies {
			total += lat
		}
		if total/time.Duration(len(m.recentLatencies)) > m.slowResponseThreshold {
			return StatusDegraded
		}
	}

	return StatusHealthy
}

// RetryAfter returns remaining time before the provider should be
// called again, zero if not throttled.
func (m *Monitor) RetryAfter() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.retryAfterDuration > 0 {
		remaining := m.retryAfterDuration - time.Since(m.lastThrottleTime)
		if remaining > 0 {
			return remaining
		}
	}
	return 0
}

// Stats returns current monitoring statistics.
func (m *Monitor) Stats() MonitorStats {
	status := m.Status()

	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := MonitorStats{
		Status:           status,
		ThrottleCount429: m.status429Count,
		ThrottleCount403: m.status403Count,
		RequestsLastHour: len(m.requestTimestamps),
	}

	if len(m.recentLatencies) > 0 {
		var total time.Duration
		for _, lat := range m.recentLatencies {
			total += lat
		}
		stats.AverageLatency = total / time.Duration(len(m.recentLatencies))
	}

	return stats
}
