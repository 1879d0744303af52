package tasks

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/mchestr/plex-wrapped-sub007/internal/rules"
	"github.com/mchestr/plex-wrapped-sub007/internal/scan"
	"github.com/mchestr/plex-wrapped-sub007/internal/scheduler"
)

// RetentionScanTask runs every enabled retention rule on a schedule.
type RetentionScanTask struct {
	rules  *rules.Service
	scans  *scan.Service
	logger zerolog.Logger
}

// NewRetentionScanTask creates a new retention scan task.
func NewRetentionScanTask(ruleService *rules.Service, scanService *scan.Service, logger zerolog.Logger) *RetentionScanTask {
	return &RetentionScanTask{
		rules:  ruleService,
		scans:  scanService,
		logger: logger.With().Str("task", "retention-scan").Logger(),
	}
}

// Run scans each enabled rule in turn. A rule already mid-scan is
// skipped, and one failing rule never blocks the rest.
func (t *RetentionScanTask) Run(ctx context.Context) error {
	enabled, err := t.rules.ListEnabled(ctx)
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to list enabled rules")
		return err
	}

	if len(enabled) == 0 {
		t.logger.Info().Msg("No enabled rules, skipping scheduled scan")
		return nil
	}

	var lastErr error
	completed := 0

	for _, rule := range enabled {
		result, err := t.scans.RunScan(ctx, rule.ID)
		if err != nil {
			if errors.Is(err, scan.ErrScanInProgress) {
				t.logger.Info().Int64("ruleId", rule.ID).Str("rule", rule.Name).Msg("Scan already active, skipping")
				continue
			}
			t.logger.Error().Err(err).Int64("ruleId", rule.ID).Str("rule", rule.Name).Msg("Failed to scan rule")
			lastErr = err
			continue
		}

		t.logger.Info().
			Int64("ruleId", rule.ID).
			Str("rule", rule.Name).
			Str("status", string(result.Status)).
			Int64("itemsScanned", result.ItemsScanned).
			Int64("itemsFlagged", result.ItemsFlagged).
			Msg("Rule scan finished")
		completed++
	}

	t.logger.Info().Int("scannedRules", completed).Int("totalRules", len(enabled)).Msg("Scheduled retention scan completed")
	return lastErr
}

// RegisterRetentionScanTask registers the retention scan task with the
// scheduler. An empty cron leaves scheduled scans disabled.
func RegisterRetentionScanTask(sched *scheduler.Scheduler, ruleService *rules.Service, scanService *scan.Service, cron string, logger zerolog.Logger) error {
	if cron == "" {
		return nil
	}
	task := NewRetentionScanTask(ruleService, scanService, logger)

	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          "retention-scan",
		Name:        "Retention Scan",
		Description: "Evaluates every enabled retention rule against the library",
		Cron:        cron,
		RunOnStart:  false,
		Func:        task.Run,
	})
}
