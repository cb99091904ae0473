// Package checks provides the probes registered with the health manager.
package checks

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/credverify/internal/monitoring"
)

// Database pings the primary store. The service cannot work without it.
func Database(db *gorm.DB) monitoring.Check {
	return monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if db == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "database not configured"}
		}

		sqlDB, err := db.DB()
		if err != nil {
			return monitoring.ResultFromError("database", err, time.Since(start))
		}
		err = sqlDB.PingContext(ctx)
		return monitoring.ResultFromError("database", err, time.Since(start))
	})
}
