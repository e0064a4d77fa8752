package txns

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/Blackdeer1524/relcore/src/txns"

type managerMetrics struct {
	grants       metric.Int64Counter
	waits        metric.Int64Counter
	releases     metric.Int64Counter
	aborts       metric.Int64Counter
	waitDuration metric.Float64Histogram
}

func newManagerMetrics() *managerMetrics {
	m, err := buildManagerMetrics(otel.Meter(instrumentationName))
	if err != nil {
		otel.Handle(err)
		// the noop meter never fails
		m, _ = buildManagerMetrics(noop.NewMeterProvider().Meter(instrumentationName))
	}
	return m
}

func buildManagerMetrics(meter metric.Meter) (*managerMetrics, error) {
	var (
		m   managerMetrics
		err error
	)

	m.grants, err = meter.Int64Counter(
		"relcore.lock.grants",
		metric.WithDescription("Number of granted lock requests"),
	)
	if err != nil {
		return nil, err
	}

	m.waits, err = meter.Int64Counter(
		"relcore.lock.waits",
		metric.WithDescription("Number of lock requests that had to wait"),
	)
	if err != nil {
		return nil, err
	}

	m.releases, err = meter.Int64Counter(
		"relcore.lock.releases",
		metric.WithDescription("Number of released locks"),
	)
	if err != nil {
		return nil, err
	}

	m.aborts, err = meter.Int64Counter(
		"relcore.lock.aborted_waits",
		metric.WithDescription("Number of queued requests cancelled by a transaction teardown"),
	)
	if err != nil {
		return nil, err
	}

	m.waitDuration, err = meter.Float64Histogram(
		"relcore.lock.wait_duration",
		metric.WithDescription("Time spent parked on a lock request"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}

func modeAttr(mode LockType) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("mode", mode.String()))
}

func (m *managerMetrics) granted(mode LockType) {
	m.grants.Add(context.Background(), 1, modeAttr(mode))
}

func (m *managerMetrics) released(mode LockType) {
	m.releases.Add(context.Background(), 1, modeAttr(mode))
}

func (m *managerMetrics) queued(mode LockType) {
	m.waits.Add(context.Background(), 1, modeAttr(mode))
}

func (m *managerMetrics) aborted(mode LockType) {
	m.aborts.Add(context.Background(), 1, modeAttr(mode))
}

func (m *managerMetrics) waited(d time.Duration, mode LockType) {
	m.waitDuration.Record(context.Background(), d.Seconds(), modeAttr(mode))
}
