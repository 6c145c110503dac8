package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/keeperhq/cloudkeeper/internal/audit"
	"github.com/keeperhq/cloudkeeper/internal/collector"
	"github.com/keeperhq/cloudkeeper/internal/config"
	"github.com/keeperhq/cloudkeeper/internal/connectors"
	"github.com/keeperhq/cloudkeeper/internal/connectors/aws"
	"github.com/keeperhq/cloudkeeper/internal/models"
	"github.com/keeperhq/cloudkeeper/internal/notify"
	"github.com/keeperhq/cloudkeeper/internal/pipeline"
	"github.com/keeperhq/cloudkeeper/internal/store"
	"github.com/keeperhq/cloudkeeper/internal/tickets"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("cloudkeeper v%s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("pass failed", "error", err)
		os.Exit(1)
	}
}

// run executes one full collection and audit pass. Scheduling repeated
// passes is left to the operator (cron or similar).
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	conns := make([]connectors.Connector, 0, len(cfg.Accounts))
	accounts := make([]string, 0, len(cfg.Accounts))
	for _, acct := range cfg.Accounts {
		conn, err := aws.New(ctx, aws.Config{
			Name:          acct.Name,
			Region:        acct.HomeRegion,
			AssumeRoleARN: acct.AssumeRoleARN,
			ExternalID:    acct.ExternalID,
		})
		if err != nil {
			return fmt.Errorf("building connector for account %s: %w", acct.Name, err)
		}
		if err := conn.Validate(ctx); err != nil {
			return fmt.Errorf("validating credentials for account %s: %w", acct.Name, err)
		}
		conns = append(conns, conn)
		accounts = append(accounts, conn.Account())
	}

	db, err := store.New(store.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}

	coll := collector.New(conns, collector.Config{
		Workers:        cfg.Collector.Workers,
		Detail:         cfg.Collector.Detail,
		Regions:        cfg.Collector.Regions,
		TroubleRegions: byResourceType(cfg.Collector.TroubleRegions),
		Ignore:         collector.IgnorePrefixes(byResourceType(cfg.Collector.Ignore)),
		Logger:         logger,
	})

	engine := audit.NewEngine(audit.Config{
		ReferenceDataPath: cfg.Audit.ReferenceData,
		EmailDomain:       cfg.Audit.EmailDomain,
		Logger:            logger,
	})

	var syncer *tickets.Syncer
	if cfg.Jira.Enabled {
		tracker := tickets.NewJiraClient(tickets.JiraConfig{
			Server:    cfg.Jira.Server,
			Username:  cfg.Jira.Username,
			Password:  cfg.Jira.Password,
			Project:   cfg.Jira.Project,
			IssueType: cfg.Jira.IssueType,
		})
		syncer = tickets.NewSyncer(tracker, tickets.SyncerConfig{
			Project:      cfg.Jira.Project,
			DashboardURL: cfg.Jira.URL,
			Logger:       logger,
		})
	}

	var notifier *notify.Service
	if cfg.Notifications.Slack.Enabled {
		notifier = notify.NewService(notify.SlackConfig{
			WebhookURL: cfg.Notifications.Slack.WebhookURL,
			Channel:    cfg.Notifications.Slack.Channel,
			Username:   "cloudkeeper",
			Enabled:    true,
		}, logger)
	}

	p := pipeline.New(pipeline.Config{
		Collector: coll,
		Store:     db,
		Engine:    engine,
		Syncer:    syncer,
		Notifier:  notifier,
		Accounts:  accounts,
		Logger:    logger,
	})
	return p.Run(ctx)
}

func byResourceType(m map[string][]string) map[models.ResourceType][]string {
	out := make(map[models.ResourceType][]string, len(m))
	for key, values := range m {
		out[models.ResourceType(key)] = values
	}
	return out
}
