package checks

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/credverify/internal/fraud"
	"github.com/charlesng35/credverify/internal/ledger"
	"github.com/charlesng35/credverify/internal/models"
	"github.com/charlesng35/credverify/internal/monitoring"
)

// Ledger probes the ledger driver. Issuance keeps working without it, so failures degrade.
func Ledger(client ledger.Client) monitoring.Check {
	return monitoring.NewCheck("ledger", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if client == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "ledger not configured"}
		}
		result := degrade(monitoring.ResultFromError("ledger", client.Health(ctx), time.Since(start)))
		if result.Status == monitoring.StatusUp {
			result.Details = client.Name()
		}
		return result
	})
}

// Fraud probes the scoring service.
func Fraud(scorer fraud.Scorer) monitoring.Check {
	return monitoring.NewCheck("fraud", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if scorer == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "fraud scorer not configured"}
		}
		err := scorer.Health(ctx)
		if errors.Is(err, fraud.ErrDisabled) {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "fraud scoring disabled"}
		}
		return degrade(monitoring.ResultFromError("fraud", err, time.Since(start)))
	})
}

// Outbox reports degraded while any task sits in the failed state awaiting an operator.
func Outbox(db *gorm.DB) monitoring.Check {
	return monitoring.NewCheck("outbox", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if db == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "database not configured"}
		}

		var failed int64
		if err := db.WithContext(ctx).Model(&models.OutboxTask{}).Where("state = ?", models.TaskFailed).Count(&failed).Error; err != nil {
			return degrade(monitoring.ResultFromError("outbox", err, time.Since(start)))
		}
		if failed > 0 {
			return monitoring.ProbeResult{
				Status:  monitoring.StatusDegraded,
				Details: "failed tasks awaiting retry: " + strconv.FormatInt(failed, 10),
			}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	})
}
