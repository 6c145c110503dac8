package tickets

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/keeperhq/cloudkeeper/internal/models"
)

// Marker separates the human-editable part of a ticket description from the
// machine-owned block below it. The literal is a compatibility string:
// tickets created by earlier deployments carry it, and truncating at any
// other text would clobber operator notes.
const Marker = "This ticket was automatically created by Security Monkey"

// Fingerprint derives the search token for a ticket summary. Free-text
// search on the full summary is unreliable in Jira, so every ticket embeds
// this token in its description and searches match on the token instead.
func Fingerprint(summary string) string {
	digest := sha1.Sum([]byte(summary))
	return base64.StdEncoding.EncodeToString(digest[:])[:16]
}

// Syncer maps aggregate issue groups onto tracker tickets, one ticket per
// group.
type Syncer struct {
	tracker      Tracker
	project      string
	dashboardURL string
	workers      int
	logger       *slog.Logger
	now          func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type SyncerConfig struct {
	Project      string
	DashboardURL string
	Workers      int
	Logger       *slog.Logger
}

func NewSyncer(tracker Tracker, cfg SyncerConfig) *Syncer {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		tracker:      tracker,
		project:      cfg.Project,
		dashboardURL: strings.TrimRight(cfg.DashboardURL, "/"),
		workers:      workers,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		locks:        make(map[string]*sync.Mutex),
	}
}

// Sync ensures one ticket per group. A failing group is logged and skipped;
// it never blocks the remaining groups.
func (s *Syncer) Sync(ctx context.Context, groups []models.AuditSetting) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, group := range groups {
		group := group
		g.Go(func() error {
			if err := s.syncOne(ctx, group); err != nil {
				s.logger.Warn("ticket sync failed for group",
					"rule", group.IssueText,
					"resource_type", group.ResourceType,
					"account", group.Account,
					"error", err)
			}
			return nil
		})
	}
	g.Wait()
}

func (s *Syncer) syncOne(ctx context.Context, group models.AuditSetting) error {
	summary := fmt.Sprintf("%s - %s - %s", group.IssueText, group.ResourceType, group.Account)
	hash := Fingerprint(summary)

	// Two groups can collide on a fingerprint only if their summaries
	// match, but serializing per fingerprint keeps search-then-write from
	// racing itself.
	lock := s.fingerprintLock(hash)
	lock.Lock()
	defer lock.Unlock()

	jql := fmt.Sprintf("project=%s and text~\"%s\"", s.project, hash)
	matches, err := s.tracker.Search(ctx, jql)
	if err != nil {
		return fmt.Errorf("searching for %q: %w", summary, err)
	}

	// text~ matches substrings; only an exact summary identifies the ticket.
	var existing *Ticket
	for i := range matches {
		if matches[i].Summary == summary {
			existing = &matches[i]
			break
		}
	}

	block := s.machineBlock(group, hash)

	if existing == nil {
		key, err := s.tracker.Create(ctx, summary, block)
		if err != nil {
			return fmt.Errorf("creating ticket for %q: %w", summary, err)
		}
		s.logger.Info("created ticket", "key", key, "summary", summary, "open_issues", group.OpenCount)
		return nil
	}

	prefix := existing.Description + "\n"
	if idx := strings.Index(existing.Description, Marker); idx >= 0 {
		prefix = existing.Description[:idx]
	}

	if err := s.tracker.Update(ctx, existing.Key, prefix+block); err != nil {
		return fmt.Errorf("updating ticket %s for %q: %w", existing.Key, summary, err)
	}
	s.logger.Info("updated ticket", "key", existing.Key, "summary", summary, "open_issues", group.OpenCount)
	return nil
}

func (s *Syncer) machineBlock(group models.AuditSetting, hash string) string {
	var b strings.Builder
	b.WriteString(Marker)
	b.WriteString(". DO NOT EDIT ANYTHING BELOW THIS LINE\n")
	fmt.Fprintf(&b, "Number of issues: %d\n", group.OpenCount)
	fmt.Fprintf(&b, "Account: %s\n", group.Account)
	b.WriteString(hash)
	b.WriteString("\n")
	fmt.Fprintf(&b, "[View on Security Monkey|%s]\n", s.deepLink(group))
	fmt.Fprintf(&b, "Last updated: %s", s.now().Format(time.RFC3339))
	return b.String()
}

// deepLink builds the dashboard URL filtered to this group's rule, resource
// type and account.
func (s *Syncer) deepLink(group models.AuditSetting) string {
	return fmt.Sprintf("%s/#/issues/-/%s/%s/-/True/%s/1/25",
		s.dashboardURL,
		url.PathEscape(string(group.ResourceType)),
		url.PathEscape(group.Account),
		url.PathEscape(group.IssueText))
}

func (s *Syncer) fingerprintLock(hash string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[hash]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[hash] = lock
	}
	return lock
}
