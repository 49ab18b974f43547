package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/genflow/internal/core/domain"
	"github.com/vietddude/genflow/internal/infra/provider"
	"github.com/vietddude/genflow/internal/infra/storage"
)

// Monitor aggregates health status from the provider transport and the
// active batch.
type Monitor struct {
	transport  provider.Transport
	repo       storage.BatchRepository
	batchID    string
	lastCheck  time.Time
	lastReport *Report
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(transport provider.Transport, repo storage.BatchRepository, batchID string) *Monitor {
	return &Monitor{
		transport: transport,
		repo:      repo,
		batchID:   batchID,
	}
}

// CheckHealth builds a health report. Checks are rate limited to avoid
// hammering storage on every probe.
func (m *Monitor) CheckHealth(ctx context.Context) *Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 10*time.Second && m.lastReport != nil {
		return m.lastReport
	}

	report := &Report{
		Provider: m.providerHealth(),
		Batch:    m.batchHealth(ctx),
	}

	// Aggregate status (worst case wins)
	report.SystemStatus = StatusHealthy
	for _, s := range []SystemStatus{report.Provider.Status, report.Batch.Status} {
		if s == StatusCritical {
			report.SystemStatus = StatusCritical
			break
		}
		if s == StatusDegraded {
			report.SystemStatus = StatusDegraded
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

func (m *Monitor) providerHealth() ProviderHealth {
	h := m.transport.GetHealth()
	ph := ProviderHealth{
		Provider:  m.transport.Name(),
		Status:    StatusHealthy,
		Available: h.Available,
		ErrorRate: h.ErrorRate,
	}
	if h.MonitorStats != nil {
		ph.RequestsToday = h.MonitorStats.RequestsLast24Hours
		ph.Throttled = h.MonitorStats.Status == provider.StatusThrottled ||
			h.MonitorStats.Status == provider.StatusBlocked
	}

	switch {
	case !h.Available:
		ph.Status = StatusCritical
	case ph.Throttled || h.ErrorRate > 0.5:
		ph.Status = StatusDegraded
	}
	return ph
}

func (m *Monitor) batchHealth(ctx context.Context) BatchHealth {
	bh := BatchHealth{BatchID: m.batchID, Status: StatusHealthy}
	if m.repo == nil || m.batchID == "" {
		return bh
	}

	counts, err := m.repo.CountByStatus(ctx, m.batchID)
	if err != nil {
		bh.Status = StatusDegraded
		return bh
	}
	bh.Pending = counts[domain.ItemStatusPending] + counts[domain.ItemStatusProcessing]
	bh.Completed = counts[domain.ItemStatusCompleted]
	bh.Failed = counts[domain.ItemStatusError]
	bh.Cancelled = counts[domain.ItemStatusCancelled]

	if bh.Failed > 0 {
		bh.Status = StatusDegraded
	}
	if bh.Failed > 10 && bh.Failed > bh.Completed {
		bh.Status = StatusCritical
	}
	return bh
}
