// Package health provides HTTP health and status reporting for the
// generation queue.
package health

import (
	"github.com/vietddude/genqueue/internal/breaker"
	"github.com/vietddude/genqueue/internal/queue"
)

// SystemStatus represents the overall health state of the system or a
// component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ProviderHealth reports one provider's breaker position.
type ProviderHealth struct {
	Provider      string        `json:"provider"`
	Status        SystemStatus  `json:"status"`
	BreakerState  breaker.State `json:"breaker_state"`
	UptimePercent float64       `json:"uptime_percent"`
	TotalAttempts int           `json:"total_attempts"`
}

// Report is the full system health report.
type Report struct {
	SystemStatus SystemStatus              `json:"system_status"`
	Queue        queue.Status              `json:"queue"`
	Providers    map[string]ProviderHealth `json:"providers"`
}

func providerStatus(stats breaker.Stats) SystemStatus {
	switch stats.State {
	case breaker.StateOpen:
		return StatusCritical
	case breaker.StateHalfOpen:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}
