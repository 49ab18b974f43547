// Package health provides system health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ProviderHealth contains health metrics for the generation provider.
type ProviderHealth struct {
	Provider      string       `json:"provider"`
	Status        SystemStatus `json:"status"`
	Available     bool         `json:"available"`
	ErrorRate     float64      `json:"error_rate"`
	RequestsToday int          `json:"requests_today"`
	Throttled     bool         `json:"throttled"`
}

// BatchHealth contains progress counters for the active batch.
type BatchHealth struct {
	BatchID   string       `json:"batch_id"`
	Status    SystemStatus `json:"status"`
	Pending   int          `json:"pending"`
	Completed int          `json:"completed"`
	Failed    int          `json:"failed"`
	Cancelled int          `json:"cancelled"`
}

// Report contains the full system health report.
type Report struct {
	SystemStatus SystemStatus   `json:"system_status"`
	Provider     ProviderHealth `json:"provider"`
	Batch        BatchHealth    `json:"batch"`
}
