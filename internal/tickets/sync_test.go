package tickets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/keeperhq/cloudkeeper/internal/models"
)

type fakeTracker struct {
	mu      sync.Mutex
	tickets map[string]*Ticket
	nextKey int

	searchErr map[string]error
	creates   int
	updates   int
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		tickets:   make(map[string]*Ticket),
		searchErr: make(map[string]error),
	}
}

func (f *fakeTracker) Search(_ context.Context, jql string) ([]Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for token, err := range f.searchErr {
		if strings.Contains(jql, token) {
			return nil, err
		}
	}

	// Emulate Jira's substring text search: match the quoted token against
	// ticket descriptions.
	start := strings.Index(jql, "\"")
	end := strings.LastIndex(jql, "\"")
	token := jql[start+1 : end]

	var out []Ticket
	for _, t := range f.tickets {
		if strings.Contains(t.Description, token) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeTracker) Create(_ context.Context, summary, description string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.creates++
	f.nextKey++
	key := fmt.Sprintf("SECMON-%d", f.nextKey)
	f.tickets[key] = &Ticket{Key: key, Summary: summary, Description: description}
	return key, nil
}

func (f *fakeTracker) Update(_ context.Context, key, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.tickets[key]
	if !ok {
		return fmt.Errorf("no ticket %s", key)
	}
	f.updates++
	t.Description = description
	return nil
}

func (f *fakeTracker) byKey(key string) Ticket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.tickets[key]
}

func testSyncer(tracker Tracker) *Syncer {
	s := NewSyncer(tracker, SyncerConfig{
		Project:      "SECMON",
		DashboardURL: "https://keeper.example.com",
		Workers:      4,
	})
	s.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func ownerGroup(count int) models.AuditSetting {
	return models.AuditSetting{
		IssueText:    "EC2 instance has no owner tag",
		ResourceType: models.ResourceTypeInstance,
		Account:      "prod",
		OpenCount:    count,
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("EC2 instance has no owner tag - instance - prod")
	b := Fingerprint("EC2 instance has no owner tag - instance - prod")
	c := Fingerprint("EC2 instance has no owner tag - instance - staging")

	if len(a) != 16 {
		t.Errorf("fingerprint length = %d, want 16", len(a))
	}
	if a != b {
		t.Error("fingerprint is not deterministic")
	}
	if a == c {
		t.Error("different summaries produced the same fingerprint")
	}
}

func TestSync_CreatesTicket(t *testing.T) {
	tracker := newFakeTracker()
	s := testSyncer(tracker)

	s.Sync(context.Background(), []models.AuditSetting{ownerGroup(3)})

	if tracker.creates != 1 {
		t.Fatalf("creates = %d, want 1", tracker.creates)
	}
	ticket := tracker.byKey("SECMON-1")
	if ticket.Summary != "EC2 instance has no owner tag - instance - prod" {
		t.Errorf("summary = %q", ticket.Summary)
	}

	hash := Fingerprint(ticket.Summary)
	wantLines := []string{
		Marker + ". DO NOT EDIT ANYTHING BELOW THIS LINE",
		"Number of issues: 3",
		"Account: prod",
		hash,
		"[View on Security Monkey|https://keeper.example.com/#/issues/-/instance/prod/-/True/EC2%20instance%20has%20no%20owner%20tag/1/25]",
		"Last updated: 2024-03-01T12:00:00Z",
	}
	if got := strings.Split(ticket.Description, "\n"); len(got) != len(wantLines) {
		t.Fatalf("description has %d lines, want %d:\n%s", len(got), len(wantLines), ticket.Description)
	} else {
		for i, line := range wantLines {
			if got[i] != line {
				t.Errorf("line %d = %q, want %q", i, got[i], line)
			}
		}
	}
}

func TestSync_UpdatesExistingTicket(t *testing.T) {
	tracker := newFakeTracker()
	s := testSyncer(tracker)

	s.Sync(context.Background(), []models.AuditSetting{ownerGroup(3)})
	s.Sync(context.Background(), []models.AuditSetting{ownerGroup(7)})

	if tracker.creates != 1 {
		t.Errorf("creates = %d, want 1", tracker.creates)
	}
	if tracker.updates != 1 {
		t.Errorf("updates = %d, want 1", tracker.updates)
	}
	ticket := tracker.byKey("SECMON-1")
	if !strings.Contains(ticket.Description, "Number of issues: 7") {
		t.Errorf("count not refreshed:\n%s", ticket.Description)
	}
}

func TestSync_PreservesHumanPrefix(t *testing.T) {
	tracker := newFakeTracker()
	s := testSyncer(tracker)

	s.Sync(context.Background(), []models.AuditSetting{ownerGroup(3)})

	// An operator prepends context above the machine block.
	ticket := tracker.byKey("SECMON-1")
	tracker.tickets["SECMON-1"].Description = "Please fix ASAP\n" + ticket.Description

	s.Sync(context.Background(), []models.AuditSetting{ownerGroup(5)})

	updated := tracker.byKey("SECMON-1")
	if !strings.HasPrefix(updated.Description, "Please fix ASAP\n"+Marker) {
		t.Errorf("human prefix lost:\n%s", updated.Description)
	}
	if !strings.Contains(updated.Description, "Number of issues: 5") {
		t.Errorf("machine block not refreshed:\n%s", updated.Description)
	}
	if strings.Count(updated.Description, Marker) != 1 {
		t.Errorf("marker duplicated:\n%s", updated.Description)
	}
}

func TestSync_MissingMarkerKeepsWholeDescription(t *testing.T) {
	tracker := newFakeTracker()
	s := testSyncer(tracker)

	group := ownerGroup(3)
	summary := "EC2 instance has no owner tag - instance - prod"
	hash := Fingerprint(summary)
	tracker.tickets["SECMON-9"] = &Ticket{
		Key:         "SECMON-9",
		Summary:     summary,
		Description: "Manually filed, token: " + hash,
	}

	s.Sync(context.Background(), []models.AuditSetting{group})

	updated := tracker.byKey("SECMON-9")
	if !strings.HasPrefix(updated.Description, "Manually filed, token: "+hash+"\n") {
		t.Errorf("original description lost:\n%s", updated.Description)
	}
	if !strings.Contains(updated.Description, Marker) {
		t.Errorf("machine block missing:\n%s", updated.Description)
	}
}

func TestSync_ExactSummaryMatchRequired(t *testing.T) {
	tracker := newFakeTracker()
	s := testSyncer(tracker)

	// A false positive: its description happens to contain the token but
	// its summary differs.
	summary := "EC2 instance has no owner tag - instance - prod"
	hash := Fingerprint(summary)
	tracker.tickets["SECMON-50"] = &Ticket{
		Key:         "SECMON-50",
		Summary:     "Unrelated ticket mentioning " + hash,
		Description: "see token " + hash,
	}

	s.Sync(context.Background(), []models.AuditSetting{ownerGroup(3)})

	if tracker.creates != 1 {
		t.Errorf("creates = %d, want 1 (false positive must not be updated)", tracker.creates)
	}
	if tracker.updates != 0 {
		t.Errorf("updates = %d, want 0", tracker.updates)
	}
}

func TestSync_FailureDoesNotBlockOtherGroups(t *testing.T) {
	tracker := newFakeTracker()
	s := testSyncer(tracker)

	failing := ownerGroup(3)
	healthy := models.AuditSetting{
		IssueText:    "Security group permits world-open ingress",
		ResourceType: models.ResourceTypeSecurityGroup,
		Account:      "prod",
		OpenCount:    2,
	}
	failingSummary := fmt.Sprintf("%s - %s - %s", failing.IssueText, failing.ResourceType, failing.Account)
	tracker.searchErr[Fingerprint(failingSummary)] = errors.New("jira unavailable")

	s.Sync(context.Background(), []models.AuditSetting{failing, healthy})

	if tracker.creates != 1 {
		t.Errorf("creates = %d, want 1 (healthy group must still sync)", tracker.creates)
	}
}
