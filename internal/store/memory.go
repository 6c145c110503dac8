package store

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keeperhq/cloudkeeper/internal/models"
)

// MemoryStore is an in-memory RecordStore used in tests and dry runs.
type MemoryStore struct {
	mu        sync.Mutex
	revisions map[models.ResourceRef][]StoredRecord
	issues    map[uuid.UUID][]models.Issue
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		revisions: make(map[models.ResourceRef][]StoredRecord),
		issues:    make(map[uuid.UUID][]models.Issue),
	}
}

func (m *MemoryStore) GetLatest(_ context.Context, ref models.ResourceRef) (*StoredRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	revs := m.revisions[ref]
	if len(revs) == 0 {
		return nil, nil
	}
	rec := revs[len(revs)-1]
	return &rec, nil
}

func (m *MemoryStore) Put(_ context.Context, record *models.Record) (bool, error) {
	data, err := models.Serialize(record.Attributes)
	if err != nil {
		return false, fmt.Errorf("serializing %s: %w", record.Ref(), err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ref := record.Ref()
	revs := m.revisions[ref]
	if len(revs) > 0 && bytes.Equal(revs[len(revs)-1].Attributes, data) {
		return false, nil
	}

	m.revisions[ref] = append(revs, StoredRecord{
		ResourceType: record.Type,
		Account:      record.Account,
		Region:       record.Region,
		Name:         record.Name,
		StableID:     record.StableID,
		Attributes:   data,
		Revision:     len(revs) + 1,
		CollectedAt:  record.CollectedAt,
	})
	return true, nil
}

func (m *MemoryStore) SaveIssues(_ context.Context, passID uuid.UUID, issues []models.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	saved := make([]models.Issue, len(issues))
	for i, issue := range issues {
		issue.ID = uuid.New()
		issue.PassID = passID
		issue.CreatedAt = now
		saved[i] = issue
	}
	m.issues[passID] = append(m.issues[passID], saved...)
	return nil
}

// Revisions returns every stored revision for the resource, oldest first.
func (m *MemoryStore) Revisions(ref models.ResourceRef) []StoredRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	revs := m.revisions[ref]
	out := make([]StoredRecord, len(revs))
	copy(out, revs)
	return out
}

// IssuesForPass returns the issues recorded under the given pass ID.
func (m *MemoryStore) IssuesForPass(passID uuid.UUID) []models.Issue {
	m.mu.Lock()
	defer m.mu.Unlock()

	issues := m.issues[passID]
	out := make([]models.Issue, len(issues))
	copy(out, issues)
	return out
}
