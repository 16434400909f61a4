package coordinator

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Schedule starts the recurring scrape and recover jobs. Empty expressions
// disable the corresponding job. The returned cron is already running; stop
// it during shutdown.
func Schedule(ctx context.Context, c *Coordinator, scrapeSpec, recoverSpec string, logger *zap.Logger) (*cron.Cron, error) {
	sched := cron.New()

	if scrapeSpec != "" {
		_, err := sched.AddFunc(scrapeSpec, func() {
			if _, err := c.RunScrape(ctx); err != nil {
				logger.Error("scheduled scrape run failed", zap.Error(err))
			}
		})
		if err != nil {
			return nil, fmt.Errorf("schedule scrape %q: %w", scrapeSpec, err)
		}
	}
	if recoverSpec != "" {
		_, err := sched.AddFunc(recoverSpec, func() {
			if _, err := c.RunRecover(ctx); err != nil {
				logger.Error("scheduled recover run failed", zap.Error(err))
			}
		})
		if err != nil {
			return nil, fmt.Errorf("schedule recover %q: %w", recoverSpec, err)
		}
	}

	sched.Start()
	return sched, nil
}
