package checks

import (
	"context"
	"time"

	"github.com/charlesng35/credverify/internal/monitoring"
)

// Pinger is satisfied by the cache stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Redis probes the rate-limit cache. Rate limiting falls back to the database when Redis is
// down, so a failure degrades readiness instead of failing it.
func Redis(client Pinger, enabled bool) monitoring.Check {
	return monitoring.NewCheck("redis", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if !enabled {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "redis disabled"}
		}
		if client == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "redis unavailable"}
		}
		return degrade(monitoring.ResultFromError("redis", client.Ping(ctx), time.Since(start)))
	})
}

func degrade(result monitoring.ProbeResult) monitoring.ProbeResult {
	if result.Status == monitoring.StatusDown {
		result.Status = monitoring.StatusDegraded
	}
	return result
}
