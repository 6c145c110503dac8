package audit

import (
	"log/slog"
	"sort"

	"github.com/keeperhq/cloudkeeper/internal/models"
)

// Check inspects one record and returns zero or more issues. Checks must be
// pure: no I/O, no clock reads, and the same record always yields the same
// issues.
type Check func(record *models.Record, ref ReferenceData) []models.Issue

// Engine evaluates every registered check against collected records.
type Engine struct {
	checks map[models.ResourceType][]Check
	ref    ReferenceData
	logger *slog.Logger
}

type Config struct {
	// ReferenceDataPath points at the YAML file of known teams and users.
	// When empty or unreadable the engine falls back to a built-in list.
	ReferenceDataPath string
	EmailDomain       string
	Logger            *slog.Logger
}

func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ref, err := LoadReferenceData(cfg.ReferenceDataPath, cfg.EmailDomain)
	if err != nil {
		logger.Warn("falling back to built-in reference data",
			"path", cfg.ReferenceDataPath, "error", err)
		ref = builtinReferenceData(cfg.EmailDomain)
	}

	e := &Engine{
		checks: make(map[models.ResourceType][]Check),
		ref:    ref,
		logger: logger,
	}
	e.register(models.ResourceTypeInstance, checkInstanceOwner)
	e.register(models.ResourceTypeInstance, checkInstanceCreator)
	e.register(models.ResourceTypeSecurityGroup, checkWorldOpenIngress)
	return e
}

func (e *Engine) register(rt models.ResourceType, checks ...Check) {
	e.checks[rt] = append(e.checks[rt], checks...)
}

// Evaluate runs every check registered for each record's resource type and
// returns the combined issues in a stable order. Records with no registered
// checks produce nothing.
func (e *Engine) Evaluate(records []models.Record) []models.Issue {
	var issues []models.Issue
	for i := range records {
		record := &records[i]
		for _, check := range e.checks[record.Type] {
			issues = append(issues, check(record, e.ref)...)
		}
	}

	sort.Slice(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.RuleName != b.RuleName {
			return a.RuleName < b.RuleName
		}
		if a.Account != b.Account {
			return a.Account < b.Account
		}
		if a.Region != b.Region {
			return a.Region < b.Region
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Notes < b.Notes
	})
	return issues
}
