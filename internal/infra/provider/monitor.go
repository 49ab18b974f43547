package provider

import (
	"strings"
	"sync"
	"time"
)

// EndpointStatus represents the health state of a generation endpoint.
type EndpointStatus int

const (
	StatusHealthy   EndpointStatus = iota // Endpoint is working normally
	StatusDegraded                        // Endpoint is slow but working
	StatusThrottled                       // Endpoint is rate limiting
	StatusBlocked                         // Endpoint has blocked this client
)

func (s EndpointStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusThrottled:
		return "throttled"
	case StatusBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// MonitorStats holds monitoring statistics for a provider endpoint.
type MonitorStats struct {
	Status              EndpointStatus
	AverageLatency      time.Duration
	ThrottleCount429    int
	ThrottleCount403    int
	RequestsLast1Hour   int
	RequestsLast24Hours int
	EstimatedDailyLimit int
	UsagePercentage     float64
}

// Monitor tracks generation endpoint health and rate limiting.
type Monitor struct {
	mu sync.RWMutex

	// Response time tracking
	recentLatencies  []time.Duration
	maxLatencyWindow int

	// Error tracking
	status429Count     int
	status403Count     int
	throttlePatterns   []string
	lastThrottleTime   time.Time
	retryAfterDuration time.Duration

	// Sliding window
	requestTimestamps   []time.Time
	EstimatedDailyLimit int
	windowDuration      time.Duration

	// Thresholds
	slowResponseThreshold time.Duration
}

// NewMonitor creates a new monitor with default settings. Generation calls
// are slow by nature, so the slow-response threshold is far above what an
// ordinary API call would tolerate.
func NewMonitor() *Monitor {
	return &Monitor{
		recentLatencies:  make([]time.Duration, 0, 100),
		maxLatencyWindow: 100,
		throttlePatterns: []string{
			"rate limit exceeded",
			"too many requests",
			"quota exceeded",
			"resource has been exhausted",
		},
		requestTimestamps:     make([]time.Time, 0),
		EstimatedDailyLimit:   1500, // Conservative per-key estimate
		windowDuration:        24 * time.Hour,
		slowResponseThreshold: 2 * time.Minute,
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

	// Clean old timestamps outside window
	cutoff := now.Add(-m.windowDuration)
	filtered := make([]time.Time, 0)
	for _, t := range m.requestTimestamps {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	m.requestTimestamps = filtered
}

// RecordThrottle records a rate limiting or blocking response.
func (m *Monitor) RecordThrottle(statusCode int, retryAfter string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastThrottleTime = time.Now()

	if statusCode == 429 {
		m.status429Count++
		m.retryAfterDuration = 60 * time.Second
		if retryAfter != "" {
			if d, err := time.ParseDuration(retryAfter + "s"); err == nil {
				m.retryAfterDuration = d
			}
		}
	}

	if statusCode == 403 {
		m.status403Count++
		m.retryAfterDuration = 10 * time.Minute
	}
}

// DetectThrottlePattern checks if a message contains throttle patterns.
func (m *Monitor) DetectThrottlePattern(message string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lowerMsg := strings.ToLower(message)

	for _, pattern := range m.throttlePatterns {
		if strings.Contains(lowerMsg, pattern) {
			return true
		}
	}

	return false
}

// CheckStatus returns the current status of the endpoint.
func (m *Monitor) CheckStatus() EndpointStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Blocked by 403
	if m.status403Count > 0 && time.Since(m.lastThrottleTime) < m.retryAfterDuration {
		return StatusBlocked
	}

	// Throttled by 429
	if m.status429Count > 3 && time.Since(m.lastThrottleTime) < m.retryAfterDuration {
		return StatusThrottled
	}

	// Check average latency
	if len(m.recentLatencies) > 10 {
		var total time.Duration
		for _, lat := range m.recentLatencies {
			total += lat
		}
		avg := total / time.Duration(len(m.recentLatencies))

		if avg > m.slowResponseThreshold {
			return StatusDegraded
		}
	}

	// Check sliding window usage
	usagePercent := float64(len(m.requestTimestamps)) / float64(m.EstimatedDailyLimit)
	if usagePercent > 0.9 {
		return StatusThrottled
	}

	return StatusHealthy
}

// GetRetryAfter returns remaining time before retry is allowed.
func (m *Monitor) GetRetryAfter() time.Duration {
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

// GetAverageLatency returns the average latency of recent requests.
func (m *Monitor) GetAverageLatency() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.recentLatencies) == 0 {
		return 0
	}

	var total time.Duration
	for _, lat := range m.recentLatencies {
		total += lat
	}

	return total / time.Duration(len(m.recentLatencies))
}

// GetRequestCount returns number of requests in the given duration.
func (m *Monitor) GetRequestCount(duration time.Duration) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().Add(-duration)
	count := 0

	for _, t := range m.requestTimestamps {
		if t.After(cutoff) {
			count++
		}
	}

	return count
}

// GetStats returns current monitoring statistics.
func (m *Monitor) GetStats() MonitorStats {
	status := m.CheckStatus()
	avgLatency := m.GetAverageLatency()
	reqLast1Hour := m.GetRequestCount(time.Hour)

	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := MonitorStats{
		Status:              status,
		AverageLatency:      avgLatency,
		ThrottleCount429:    m.status429Count,
		ThrottleCount403:    m.status403Count,
		RequestsLast1Hour:   reqLast1Hour,
		RequestsLast24Hours: len(m.requestTimestamps),
		EstimatedDailyLimit: m.EstimatedDailyLimit,
	}

	if len(m.requestTimestamps) > 0 {
		stats.UsagePercentage = float64(
			len(m.requestTimestamps),
		) / float64(
			m.EstimatedDailyLimit,
		) * 100
	}

	return stats
}

// SetDailyLimit updates the estimated daily limit.
func (m *Monitor) SetDailyLimit(limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EstimatedDailyLimit = limit
}
