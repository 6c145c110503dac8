package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/keeperhq/cloudkeeper/internal/connectors"
	"github.com/keeperhq/cloudkeeper/internal/models"
)

// IgnoreFunc reports whether a resource should be excluded from collection
// entirely. It is consulted before Record construction.
type IgnoreFunc func(resourceType models.ResourceType, identifier string) bool

// IgnorePrefixes builds an IgnoreFunc matching identifiers case-insensitively
// against a list of prefixes per resource type.
func IgnorePrefixes(prefixes map[models.ResourceType][]string) IgnoreFunc {
	lowered := make(map[models.ResourceType][]string, len(prefixes))
	for rt, list := range prefixes {
		for _, p := range list {
			lowered[rt] = append(lowered[rt], strings.ToLower(p))
		}
	}
	return func(rt models.ResourceType, identifier string) bool {
		id := strings.ToLower(identifier)
		for _, p := range lowered[rt] {
			if strings.HasPrefix(id, p) {
				return true
			}
		}
		return false
	}
}

type Config struct {
	// Workers bounds the number of concurrent account/region listings.
	Workers int

	// Detail controls security group correlation depth.
	Detail models.DetailLevel

	// Regions pins collection to a fixed region list instead of discovering
	// regions per account.
	Regions []string

	// TroubleRegions lists regions per resource type where connectivity
	// failures are expected and silently skipped.
	TroubleRegions map[models.ResourceType][]string

	Ignore IgnoreFunc
	Logger *slog.Logger
}

// Collector enumerates resources of one type across all accounts and regions
// and normalizes them into Records. A failure in one account/region never
// aborts collection elsewhere; failures are returned in a map instead.
type Collector struct {
	conns   map[string]connectors.Connector
	workers int
	detail  models.DetailLevel
	regions []string
	trouble map[models.ResourceType]map[string]bool
	ignore  IgnoreFunc
	logger  *slog.Logger
}

func New(conns []connectors.Connector, cfg Config) *Collector {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.Detail == "" {
		cfg.Detail = models.DetailNone
	}

	byAccount := make(map[string]connectors.Connector, len(conns))
	for _, conn := range conns {
		byAccount[conn.Account()] = conn
	}

	trouble := make(map[models.ResourceType]map[string]bool, len(cfg.TroubleRegions))
	for rt, regions := range cfg.TroubleRegions {
		trouble[rt] = make(map[string]bool, len(regions))
		for _, r := range regions {
			trouble[rt][r] = true
		}
	}

	return &Collector{
		conns:   byAccount,
		workers: cfg.Workers,
		detail:  cfg.Detail,
		regions: cfg.Regions,
		trouble: trouble,
		ignore:  cfg.Ignore,
		logger:  cfg.Logger,
	}
}

type regionTask struct {
	conn    connectors.Connector
	account string
	region  string
}

// Collect enumerates every account × region pair for one resource type.
// Regions are listed in parallel up to the worker bound; completion order is
// irrelevant since results are sorted before returning. Connectivity failures
// are recorded per (type, account, region) and only suppressed for declared
// trouble regions.
func (c *Collector) Collect(ctx context.Context, rt models.ResourceType, accounts []string) ([]models.Record, map[models.FailureKey]error) {
	failures := make(map[models.FailureKey]error)
	var records []models.Record
	var mu sync.Mutex

	fail := func(key models.FailureKey, err error) {
		mu.Lock()
		defer mu.Unlock()
		failures[key] = err
	}

	var tasks []regionTask
	for _, account := range accounts {
		conn, ok := c.conns[account]
		if !ok {
			fail(models.FailureKey{Type: rt, Account: account}, fmt.Errorf("no connector for account %s", account))
			continue
		}

		regions, err := c.regionsFor(ctx, conn)
		if err != nil {
			// Some accounts cannot enumerate regions at all; that is one
			// failure for the account, not one per region.
			fail(models.FailureKey{Type: rt, Account: account}, err)
			continue
		}
		for _, region := range regions {
			tasks = append(tasks, regionTask{conn: conn, account: account, region: region})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			c.logger.Debug("collecting",
				"resource_type", rt,
				"account", task.account,
				"region", task.region)

			recs, err := c.collectRegion(gctx, rt, task)
			if err != nil {
				if c.trouble[rt][task.region] {
					c.logger.Debug("suppressing failure in trouble region",
						"resource_type", rt,
						"account", task.account,
						"region", task.region,
						"error", err)
					return nil
				}
				fail(models.FailureKey{Type: rt, Account: task.account, Region: task.region}, err)
				return nil
			}

			mu.Lock()
			records = append(records, recs...)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	sort.Slice(records, func(i, j int) bool {
		if records[i].Account != records[j].Account {
			return records[i].Account < records[j].Account
		}
		if records[i].Region != records[j].Region {
			return records[i].Region < records[j].Region
		}
		if records[i].Name != records[j].Name {
			return records[i].Name < records[j].Name
		}
		return records[i].StableID < records[j].StableID
	})

	return records, failures
}

func (c *Collector) regionsFor(ctx context.Context, conn connectors.Connector) ([]string, error) {
	if len(c.regions) > 0 {
		return c.regions, nil
	}
	regions, err := conn.ListRegions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing regions: %w", err)
	}
	return regions, nil
}

func (c *Collector) collectRegion(ctx context.Context, rt models.ResourceType, task regionTask) ([]models.Record, error) {
	switch rt {
	case models.ResourceTypeInstance:
		conn, ok := task.conn.(connectors.InstanceConnector)
		if !ok {
			return nil, fmt.Errorf("connector for %s does not list instances", task.account)
		}
		return c.collectInstances(ctx, conn, task.account, task.region)
	case models.ResourceTypeSecurityGroup:
		conn, ok := task.conn.(connectors.SecurityGroupConnector)
		if !ok {
			return nil, fmt.Errorf("connector for %s does not list security groups", task.account)
		}
		return c.collectSecurityGroups(ctx, conn, task.account, task.region)
	default:
		return nil, fmt.Errorf("unsupported resource type %q", rt)
	}
}

func (c *Collector) shouldIgnore(rt models.ResourceType, identifier string) bool {
	return c.ignore != nil && c.ignore(rt, identifier)
}

func now() time.Time {
	return time.Now().UTC()
}
