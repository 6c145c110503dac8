package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/keeperhq/cloudkeeper/internal/audit"
	"github.com/keeperhq/cloudkeeper/internal/collector"
	"github.com/keeperhq/cloudkeeper/internal/connectors"
	"github.com/keeperhq/cloudkeeper/internal/models"
	"github.com/keeperhq/cloudkeeper/internal/store"
	"github.com/keeperhq/cloudkeeper/internal/tickets"
)

type fakeConnector struct {
	account   string
	regions   []string
	instances map[string][]connectors.Instance
	groups    map[string][]connectors.SecurityGroup
	fail      map[string]error
}

func (f *fakeConnector) Account() string                               { return f.account }
func (f *fakeConnector) Validate(context.Context) error                { return nil }
func (f *fakeConnector) ListRegions(context.Context) ([]string, error) { return f.regions, nil }

func (f *fakeConnector) ListInstances(_ context.Context, region string) ([]connectors.Instance, error) {
	if err := f.fail[region]; err != nil {
		return nil, err
	}
	return f.instances[region], nil
}

func (f *fakeConnector) ListSecurityGroups(_ context.Context, region string) ([]connectors.SecurityGroup, error) {
	if err := f.fail[region]; err != nil {
		return nil, err
	}
	return f.groups[region], nil
}

func (f *fakeConnector) ListDatabases(context.Context, string) ([]connectors.Database, error) {
	return nil, nil
}

func (f *fakeConnector) ListLoadBalancers(context.Context, string) ([]connectors.LoadBalancer, error) {
	return nil, nil
}

func (f *fakeConnector) ListInstanceTags(context.Context, string) (map[string]map[string]string, error) {
	return nil, nil
}

type fakeTracker struct {
	mu      sync.Mutex
	tickets map[string]string
	n       int
}

func (f *fakeTracker) Search(context.Context, string) ([]tickets.Ticket, error) { return nil, nil }

func (f *fakeTracker) Create(_ context.Context, summary, description string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tickets == nil {
		f.tickets = make(map[string]string)
	}
	f.n++
	f.tickets[summary] = description
	return summary, nil
}

func (f *fakeTracker) Update(context.Context, string, string) error { return nil }

func testEngine(t *testing.T) *audit.Engine {
	t.Helper()
	// Empty path falls back to built-in reference data (infra team, root
	// user), which keeps tagged fixtures quiet.
	return audit.NewEngine(audit.Config{EmailDomain: "yelp.com"})
}

func TestRun_EndToEnd(t *testing.T) {
	account1 := &fakeConnector{
		account: "account1",
		regions: []string{"us-east-1"},
		instances: map[string][]connectors.Instance{
			"us-east-1": {
				{
					ID:           "i-0001",
					InstanceType: "m5.large",
					Tags:         map[string]string{"Name": "web-1", "owner": "infra", "creator": "root"},
				},
				{
					ID:           "i-0002",
					InstanceType: "m5.large",
					Tags:         map[string]string{"Name": "web-2"},
				},
			},
		},
		groups: map[string][]connectors.SecurityGroup{
			"us-east-1": {
				{
					ID:    "sg-aaaaaaaa",
					Name:  "web",
					VPCID: "vpc-12345678",
					Rules: []connectors.IngressRule{
						{IPProtocol: "tcp", FromPort: 22, ToPort: 22, CIDRIP: "0.0.0.0/0"},
					},
				},
			},
		},
	}
	account2 := &fakeConnector{
		account: "account2",
		regions: []string{"us-east-1"},
		fail:    map[string]error{"us-east-1": errors.New("throttled")},
	}

	mem := store.NewMemoryStore()
	tracker := &fakeTracker{}
	syncer := tickets.NewSyncer(tracker, tickets.SyncerConfig{
		Project:      "SECMON",
		DashboardURL: "https://keeper.example.com",
		Workers:      2,
	})

	p := New(Config{
		Collector: collector.New(
			[]connectors.Connector{account1, account2},
			collector.Config{Workers: 4, Detail: models.DetailNone},
		),
		Store:    mem,
		Engine:   testEngine(t),
		Syncer:   syncer,
		Accounts: []string{"account1", "account2"},
	})

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// account2's failure must not block account1's records.
	stored, err := mem.GetLatest(context.Background(), models.ResourceRef{
		Type: models.ResourceTypeInstance, Account: "account1", Region: "us-east-1", Name: "web-1",
	})
	if err != nil || stored == nil {
		t.Fatalf("web-1 not persisted: %v", err)
	}

	// web-2 has neither owner nor creator; the security group is world
	// open. Three aggregate groups, three tickets.
	wantSummaries := []string{
		"EC2 instance has no owner tag - instance - account1",
		"EC2 instance has no creator tag - instance - account1",
		"Security group permits world-open ingress - securitygroup - account1",
	}
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if tracker.n != len(wantSummaries) {
		t.Fatalf("created %d tickets, want %d: %v", tracker.n, len(wantSummaries), tracker.tickets)
	}
	for _, summary := range wantSummaries {
		desc, ok := tracker.tickets[summary]
		if !ok {
			t.Errorf("missing ticket %q", summary)
			continue
		}
		if !strings.Contains(desc, "Number of issues: 1") {
			t.Errorf("ticket %q count wrong:\n%s", summary, desc)
		}
	}
}

func TestRun_SecondPassDetectsNoChanges(t *testing.T) {
	conn := &fakeConnector{
		account: "account1",
		regions: []string{"us-east-1"},
		instances: map[string][]connectors.Instance{
			"us-east-1": {
				{ID: "i-0001", InstanceType: "m5.large", Tags: map[string]string{"Name": "web-1", "owner": "infra", "creator": "root"}},
			},
		},
	}

	mem := store.NewMemoryStore()
	p := New(Config{
		Collector: collector.New([]connectors.Connector{conn}, collector.Config{Workers: 1}),
		Store:     mem,
		Engine:    testEngine(t),
		Accounts:  []string{"account1"},
	})

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}

	revs := mem.Revisions(models.ResourceRef{
		Type: models.ResourceTypeInstance, Account: "account1", Region: "us-east-1", Name: "web-1",
	})
	if len(revs) != 1 {
		t.Errorf("got %d revisions after identical passes, want 1", len(revs))
	}
}
