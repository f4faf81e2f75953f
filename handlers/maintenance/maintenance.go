// Package maintenance provides the built-in "maintenance" job type: it
// prunes old run history so the execution table stays bounded.
package maintenance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"jobtick/internal/executor"
	"jobtick/internal/job"
	"jobtick/internal/registry"
	"jobtick/internal/store"
	logx "jobtick/pkg/logx"
)

// defaultRetention keeps 30 days of history when the job doesn't say.
const defaultRetention = 30 * 24 * time.Hour

type Options struct {
	Store store.Store
	Log   logx.Logger
}

// New returns the maintenance handler. Job config keys:
//
//	retention: Go duration string; terminal executions completed earlier
//	           than now-retention are deleted (default "720h")
//	job_id:    restrict pruning to one job (default: all jobs)
func New(opts Options) registry.Handler {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return func(ctx context.Context, j job.Job) (map[string]any, error) {
		retention := defaultRetention
		if raw, _ := j.Config["retention"].(string); strings.TrimSpace(raw) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(raw))
			if err != nil || d <= 0 {
				return nil, executor.NoRetry(fmt.Errorf("job %q: invalid retention %q", j.Name, raw))
			}
			retention = d
		}
		jobID, _ := j.Config["job_id"].(string)

		cutoff := time.Now().Add(-retention)
		pruned, err := opts.Store.PruneExecutions(ctx, jobID, cutoff)
		if err != nil {
			return nil, fmt.Errorf("prune executions: %w", err)
		}
		if pruned > 0 {
			log.Info("run history pruned",
				logx.Int64("pruned", pruned),
				logx.Duration("retention", retention))
		}
		return map[string]any{
			"pruned":    pruned,
			"retention": retention.String(),
			"cutoff":    cutoff.Format(time.RFC3339),
		}, nil
	}
}
