package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID indexes one engine counter. IDs are stable within a process
// but not across versions; exporters should key off Name.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginChallengeIssued
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricValidateSuccess
	MetricValidateRevoked
	MetricRevocationFailOpen
	MetricLogout
	MetricRegisterSuccess
	MetricRegisterDuplicate
	MetricPasswordChangeSuccess
	MetricPasswordChangeFailure
	MetricPasswordUpgraded
	MetricMFASuccess
	MetricMFAFailure
	MetricMFAAttemptsExceeded
	MetricMFAEnabled
	MetricMFADisabled
	MetricRecoveryCodeUsed
	MetricRecoveryCodeFailed
	MetricRecoveryCodesRotated
	MetricEmailCodeSent
	MetricValidateLatency
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricLoginSuccess:          "login_success",
	MetricLoginFailure:          "login_failure",
	MetricLoginChallengeIssued:  "login_challenge_issued",
	MetricRefreshSuccess:        "refresh_success",
	MetricRefreshFailure:        "refresh_failure",
	MetricValidateSuccess:       "validate_success",
	MetricValidateRevoked:       "validate_revoked",
	MetricRevocationFailOpen:    "revocation_fail_open",
	MetricLogout:                "logout",
	MetricRegisterSuccess:       "register_success",
	MetricRegisterDuplicate:     "register_duplicate",
	MetricPasswordChangeSuccess: "password_change_success",
	MetricPasswordChangeFailure: "password_change_failure",
	MetricPasswordUpgraded:      "password_upgraded",
	MetricMFASuccess:            "mfa_success",
	MetricMFAFailure:            "mfa_failure",
	MetricMFAAttemptsExceeded:   "mfa_attempts_exceeded",
	MetricMFAEnabled:            "mfa_enabled",
	MetricMFADisabled:           "mfa_disabled",
	MetricRecoveryCodeUsed:      "recovery_code_used",
	MetricRecoveryCodeFailed:    "recovery_code_failed",
	MetricRecoveryCodesRotated:  "recovery_codes_rotated",
	MetricEmailCodeSent:         "email_code_sent",
	MetricValidateLatency:       "validate_latency",
}

// Name returns the stable snake_case label for id, or "" for unknown ids.
func (id MetricID) Name() string {
	if id >= metricIDCount {
		return ""
	}
	return metricNames[id]
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// Counters are cache-line padded so concurrent increments of different
// metrics do not false-share.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed-size atomic counter block. A disabled instance makes
// every operation a no-op so callers never branch.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy safe to hand to exporters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a validation latency sample. Only MetricValidateLatency
// carries a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id != MetricValidateLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricValidateLatency].buckets[i])
		}
		s.Histograms[MetricValidateLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
