package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/keeperhq/cloudkeeper/internal/audit"
	"github.com/keeperhq/cloudkeeper/internal/collector"
	"github.com/keeperhq/cloudkeeper/internal/models"
	"github.com/keeperhq/cloudkeeper/internal/notify"
	"github.com/keeperhq/cloudkeeper/internal/store"
	"github.com/keeperhq/cloudkeeper/internal/tickets"
)

// Pipeline runs one full pass per resource type: collect, persist, audit,
// aggregate, sync tickets.
type Pipeline struct {
	collector *collector.Collector
	store     store.RecordStore
	engine    *audit.Engine
	syncer    *tickets.Syncer
	notifier  *notify.Service
	accounts  []string
	logger    *slog.Logger
}

type Config struct {
	Collector *collector.Collector
	Store     store.RecordStore
	Engine    *audit.Engine

	// Syncer is optional; without it issues are persisted but no tickets
	// are filed.
	Syncer *tickets.Syncer

	// Notifier is optional.
	Notifier *notify.Service

	Accounts []string
	Logger   *slog.Logger
}

func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		collector: cfg.Collector,
		store:     cfg.Store,
		engine:    cfg.Engine,
		syncer:    cfg.Syncer,
		notifier:  cfg.Notifier,
		accounts:  cfg.Accounts,
		logger:    logger,
	}
}

// Run executes one pass over every resource type. Collection failures inside
// a pass are logged and reported, never fatal; an error is returned only
// when persistence itself fails.
func (p *Pipeline) Run(ctx context.Context) error {
	for _, rt := range []models.ResourceType{models.ResourceTypeInstance, models.ResourceTypeSecurityGroup} {
		if err := p.runPass(ctx, rt); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) runPass(ctx context.Context, rt models.ResourceType) error {
	passID := uuid.New()
	started := time.Now()
	logger := p.logger.With("pass", passID.String(), "resource_type", rt)
	logger.Info("starting pass", "accounts", len(p.accounts))

	records, failures := p.collector.Collect(ctx, rt, p.accounts)
	for key, err := range failures {
		logger.Warn("collection failure",
			"account", key.Account, "region", key.Region, "error", err)
	}

	changed := 0
	for i := range records {
		record := &records[i]
		didChange, err := p.store.Put(ctx, record)
		if err != nil {
			return fmt.Errorf("persisting %s: %w", record.Ref(), err)
		}
		if didChange {
			changed++
			logger.Debug("record changed", "resource", record.Ref().String())
		}
	}

	// Audit every record, changed or not: checks are pure and reference
	// data may have moved since the last pass.
	issues := p.engine.Evaluate(records)
	if err := p.store.SaveIssues(ctx, passID, issues); err != nil {
		return fmt.Errorf("saving issues: %w", err)
	}

	groups := audit.Aggregate(issues)
	if p.syncer != nil {
		p.syncer.Sync(ctx, groups)
	}

	logger.Info("pass complete",
		"records", len(records),
		"changed", changed,
		"issues", len(issues),
		"groups", len(groups),
		"failures", len(failures),
		"elapsed", time.Since(started).Round(time.Millisecond))

	if p.notifier != nil {
		report := notify.PassReport{
			PassID:       passID.String(),
			ResourceType: rt,
			Records:      len(records),
			Changed:      changed,
			Issues:       len(issues),
			Failures:     len(failures),
			Duration:     time.Since(started),
		}
		if err := p.notifier.ReportPass(ctx, report); err != nil {
			logger.Warn("pass report failed", "error", err)
		}
	}
	return nil
}
