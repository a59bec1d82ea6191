package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike    AlertType = "login_failure_spike"
	AlertPasswordFailureSpike AlertType = "password_failure_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// metricsCollector tracks sliding window counters for anomaly detection.
type metricsCollector struct {
	mu sync.Mutex

	loginFailures  []time.Time
	loginWindow    time.Duration
	loginThreshold int

	// Failed origin password checks on rotation.
	passwordFailures  []time.Time
	passwordWindow    time.Duration
	passwordThreshold int

	alertFn AlertFunc
}

const (
	defaultLoginFailureWindow       = 1 * time.Minute
	defaultLoginFailureThreshold    = 50
	defaultPasswordFailureWindow    = 5 * time.Minute
	defaultPasswordFailureThreshold = 20
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		loginWindow:       defaultLoginFailureWindow,
		loginThreshold:    defaultLoginFailureThreshold,
		passwordWindow:    defaultPasswordFailureWindow,
		passwordThreshold: defaultPasswordFailureThreshold,
		alertFn:           alertFn,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	switch event {
	case AuditLoginFailure:
		m.record(&m.loginFailures, m.loginWindow, m.loginThreshold,
			AlertLoginFailureSpike, "login failure rate exceeds threshold")
	case AuditPasswordChangeFailure:
		m.record(&m.passwordFailures, m.passwordWindow, m.passwordThreshold,
			AlertPasswordFailureSpike, "password change failure rate exceeds threshold")
	}
}

func (m *metricsCollector) record(window *[]time.Time, d time.Duration, threshold int, typ AlertType, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	*window = append(*window, now)
	*window = trimWindow(*window, now, d)

	if len(*window) >= threshold {
		m.alertFn(AlertEvent{
			Type:      typ,
			Message:   msg,
			Count:     len(*window),
			Threshold: threshold,
			Timestamp: now,
		})
		// Reset to avoid repeated alerts within the same spike.
		*window = (*window)[:0]
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
