package transfer

import (
	"github.com/rcrowley/go-metrics"
)

type managerMetrics struct {
	registry metrics.Registry

	Transfers       metrics.Gauge
	Submitted       metrics.Counter
	SubmitFailed    metrics.Counter
	Stopped         metrics.Counter
	ArchivesCreated metrics.Counter
	ArchiveFailures metrics.Counter
	ArchivesExpired metrics.Counter
	PendingExpiries metrics.Gauge
	FilesServed     metrics.Meter
}

func (m *Manager) initMetrics() {
	r := metrics.NewRegistry()
	m.metrics = &managerMetrics{
		registry: r,
		Transfers: metrics.NewRegisteredFunctionalGauge("transfers", r, func() int64 {
			return int64(m.registry.Len())
		}),
		Submitted:       metrics.NewRegisteredCounter("submitted", r),
		SubmitFailed:    metrics.NewRegisteredCounter("submit_failed", r),
		Stopped:         metrics.NewRegisteredCounter("stopped", r),
		ArchivesCreated: metrics.NewRegisteredCounter("archives_created", r),
		ArchiveFailures: metrics.NewRegisteredCounter("archive_failures", r),
		ArchivesExpired: metrics.NewRegisteredCounter("archives_expired", r),
		FilesServed:     metrics.NewRegisteredMeter("files_served", r),
	}
}

// initArchiveMetrics runs after the archiver is created since the gauge reads from it.
func (m *Manager) initArchiveMetrics() {
	m.metrics.PendingExpiries = metrics.NewRegisteredFunctionalGauge("pending_expiries", m.metrics.registry, func() int64 {
		return int64(m.archiver.Pending())
	})
}

func (m *managerMetrics) Close() {
	m.FilesServed.Stop()
}
