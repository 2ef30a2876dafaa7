package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	authcore "github.com/aallard/CodeOps-Server-sub001"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

const namePrefix = "authcore_"

// counterIDs lists every exported counter in snapshot order.
var counterIDs = []authcore.MetricID{
	authcore.MetricLoginSuccess,
	authcore.MetricLoginFailure,
	authcore.MetricLoginChallengeIssued,
	authcore.MetricRefreshSuccess,
	authcore.MetricRefreshFailure,
	authcore.MetricValidateSuccess,
	authcore.MetricValidateRevoked,
	authcore.MetricRevocationFailOpen,
	authcore.MetricLogout,
	authcore.MetricRegisterSuccess,
	authcore.MetricRegisterDuplicate,
	authcore.MetricPasswordChangeSuccess,
	authcore.MetricPasswordChangeFailure,
	authcore.MetricPasswordUpgraded,
	authcore.MetricMFASuccess,
	authcore.MetricMFAFailure,
	authcore.MetricMFAAttemptsExceeded,
	authcore.MetricMFAEnabled,
	authcore.MetricMFADisabled,
	authcore.MetricRecoveryCodeUsed,
	authcore.MetricRecoveryCodeFailed,
	authcore.MetricRecoveryCodesRotated,
	authcore.MetricEmailCodeSent,
}

var histogramBucketSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

type metricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

type observedCounter struct {
	id         authcore.MetricID
	instrument metric.Int64ObservableCounter
}

// Exporter bridges engine counters into an OTel Meter. Close unregisters
// the collection callback.
type Exporter struct {
	source         metricsSource
	registration   metric.Registration
	counters       []observedCounter
	latencyBuckets [8]metric.Int64ObservableGauge
	latencyCount   metric.Int64ObservableGauge
	auditDropped   metric.Int64ObservableCounter
}

// NewExporter registers instruments for the engine on meter.
func NewExporter(meter metric.Meter, engine *authcore.Engine) (*Exporter, error) {
	return NewExporterFromSource(meter, engine)
}

// NewExporterFromSource is NewExporter for any snapshot source, which is
// what tests use.
func NewExporterFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &Exporter{
		source:   source,
		counters: make([]observedCounter, 0, len(counterIDs)),
	}

	observables := make([]metric.Observable, 0, len(counterIDs)+len(histogramBucketSuffix)+2)

	for _, id := range counterIDs {
		name := namePrefix + id.Name() + "_total"
		ins, err := meter.Int64ObservableCounter(name, metric.WithDescription("Engine counter "+id.Name()+"."))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", name, err)
		}
		exporter.counters = append(exporter.counters, observedCounter{id: id, instrument: ins})
		observables = append(observables, ins)
	}

	for i, suffix := range histogramBucketSuffix {
		name := namePrefix + "validate_latency_seconds_bucket_le_" + suffix
		ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative histogram bucket count."))
		if err != nil {
			return nil, fmt.Errorf("create histogram bucket gauge %s: %w", name, err)
		}
		exporter.latencyBuckets[i] = ins
		observables = append(observables, ins)
	}

	countIns, err := meter.Int64ObservableGauge(
		namePrefix+"validate_latency_seconds_count",
		metric.WithDescription("Histogram total sample count."),
	)
	if err != nil {
		return nil, fmt.Errorf("create histogram count gauge: %w", err)
	}
	exporter.latencyCount = countIns
	observables = append(observables, countIns)

	auditDropped, err := meter.Int64ObservableCounter(
		namePrefix+"audit_dropped_total",
		metric.WithDescription("Dropped audit events due to dispatcher backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := exporter.source.MetricsSnapshot()
		for _, c := range exporter.counters {
			observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
		}

		buckets := cumulativeBuckets(snapshot.Histograms[authcore.MetricValidateLatency])
		var total uint64
		for i := range exporter.latencyBuckets {
			observer.ObserveInt64(exporter.latencyBuckets[i], int64(buckets[i]))
		}
		if len(buckets) > 0 {
			total = buckets[len(buckets)-1]
		}
		observer.ObserveInt64(exporter.latencyCount, int64(total))

		observer.ObserveInt64(exporter.auditDropped, int64(exporter.source.AuditDropped()))
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register metrics callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

// Close unregisters the callback; instruments stop reporting afterwards.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}

// cumulativeBuckets converts raw per-bucket counts into the cumulative
// form histogram consumers expect.
func cumulativeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(out); i++ {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
