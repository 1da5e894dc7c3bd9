package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
	"github.com/aman-churiwal/admission-gateway/internal/rules"
)

type KeyGauge interface {
	ResetTrackedKeys()
	SetTrackedKeys(ruleID string, keys int)
}

// Evicts limiter keys idle longer than idleTTL and publishes per-rule key counts
func SweepJob(schedule string, registry *ratelimit.Registry, idleTTL time.Duration, gauge KeyGauge, logger *slog.Logger) Job {
	return Job{
		Name:     "limiter-sweep",
		Schedule: schedule,
		Run: func(context.Context) error {
			evicted := registry.Sweep(idleTTL)
			if evicted > 0 {
				logger.Debug("evicted idle limiter keys", "count", evicted)
			}

			if gauge != nil {
				gauge.ResetTrackedKeys()
				for ruleID, stats := range registry.Stats() {
					gauge.SetTrackedKeys(ruleID, stats.Keys)
				}
			}
			return nil
		},
	}
}

type RuleLister interface {
	List(ctx context.Context) ([]models.RateLimitRule, error)
}

type ReloadObserver interface {
	ObserveRuleReload(source string, err error)
	SetRulesLoaded(n int)
}

// Replaces the database partition of the rule store with the current table contents
func RefreshJob(schedule string, lister RuleLister, store *rules.Store, observer ReloadObserver) Job {
	return Job{
		Name:     "rule-refresh",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			loaded, err := lister.List(ctx)
			if err == nil {
				err = store.Replace(rules.PartitionDatabase, loaded)
			}
			if observer != nil {
				observer.ObserveRuleReload(rules.PartitionDatabase, err)
				observer.SetRulesLoaded(len(store.ListRules()))
			}
			return err
		},
	}
}
