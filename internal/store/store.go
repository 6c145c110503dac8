package store

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/keeperhq/cloudkeeper/internal/models"
)

// StoredRecord is the latest persisted revision of a resource.
type StoredRecord struct {
	ResourceType models.ResourceType `db:"resource_type"`
	Account      string              `db:"account"`
	Region       string              `db:"region"`
	Name         string              `db:"name"`
	StableID     string              `db:"stable_id"`
	Attributes   []byte              `db:"attributes"`
	Revision     int                 `db:"revision"`
	CollectedAt  time.Time           `db:"collected_at"`
}

func (r *StoredRecord) Ref() models.ResourceRef {
	return models.ResourceRef{Type: r.ResourceType, Account: r.Account, Region: r.Region, Name: r.Name}
}

// RecordStore persists resource revisions and audit issues.
type RecordStore interface {
	// GetLatest returns the most recent revision for the resource, or
	// (nil, nil) when the resource has never been seen.
	GetLatest(ctx context.Context, ref models.ResourceRef) (*StoredRecord, error)

	// Put appends a new revision when the record's serialized attributes
	// differ from the latest stored revision. It reports whether the
	// record changed; a resource seen for the first time counts as
	// changed.
	Put(ctx context.Context, record *models.Record) (bool, error)

	// SaveIssues persists all issues from one audit pass, assigning IDs
	// and timestamps.
	SaveIssues(ctx context.Context, passID uuid.UUID, issues []models.Issue) error
}

type Store struct {
	db *sqlx.DB
}

type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

func New(cfg Config) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS resource_records (
	id            UUID PRIMARY KEY,
	resource_type TEXT NOT NULL,
	account       TEXT NOT NULL,
	region        TEXT NOT NULL,
	name          TEXT NOT NULL,
	stable_id     TEXT NOT NULL,
	attributes    JSON NOT NULL,
	revision      INT NOT NULL,
	collected_at  TIMESTAMPTZ NOT NULL,
	UNIQUE (resource_type, account, region, name, revision)
);

CREATE INDEX IF NOT EXISTS resource_records_ref_idx
	ON resource_records (resource_type, account, region, name, revision DESC);

CREATE TABLE IF NOT EXISTS audit_issues (
	id            UUID PRIMARY KEY,
	pass_id       UUID NOT NULL,
	rule_name     TEXT NOT NULL,
	severity      INT NOT NULL,
	resource_type TEXT NOT NULL,
	account       TEXT NOT NULL,
	region        TEXT NOT NULL,
	name          TEXT NOT NULL,
	notes         TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS audit_issues_pass_idx ON audit_issues (pass_id);
`

// EnsureSchema creates the tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}

func (s *Store) GetLatest(ctx context.Context, ref models.ResourceRef) (*StoredRecord, error) {
	var rec StoredRecord
	query := `
		SELECT resource_type, account, region, name, stable_id, attributes, revision, collected_at
		FROM resource_records
		WHERE resource_type = $1 AND account = $2 AND region = $3 AND name = $4
		ORDER BY revision DESC
		LIMIT 1
	`
	err := s.db.GetContext(ctx, &rec, query, ref.Type, ref.Account, ref.Region, ref.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest revision for %s: %w", ref, err)
	}
	return &rec, nil
}

func (s *Store) Put(ctx context.Context, record *models.Record) (bool, error) {
	data, err := models.Serialize(record.Attributes)
	if err != nil {
		return false, fmt.Errorf("serializing %s: %w", record.Ref(), err)
	}

	latest, err := s.GetLatest(ctx, record.Ref())
	if err != nil {
		return false, err
	}
	if latest != nil && bytes.Equal(latest.Attributes, data) {
		return false, nil
	}

	revision := 1
	if latest != nil {
		revision = latest.Revision + 1
	}

	query := `
		INSERT INTO resource_records (id, resource_type, account, region, name, stable_id, attributes, revision, collected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	// pq sends []byte as bytea; json columns need the text form. The column
	// is json rather than jsonb so the stored text stays byte-identical to
	// the canonical serialization and latest-comparison stays exact.
	_, err = s.db.ExecContext(ctx, query,
		uuid.New(), record.Type, record.Account, record.Region, record.Name,
		record.StableID, string(data), revision, record.CollectedAt,
	)
	if err != nil {
		return false, fmt.Errorf("inserting revision %d for %s: %w", revision, record.Ref(), err)
	}
	return true, nil
}

func (s *Store) SaveIssues(ctx context.Context, passID uuid.UUID, issues []models.Issue) error {
	if len(issues) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning issue transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO audit_issues (id, pass_id, rule_name, severity, resource_type, account, region, name, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	now := time.Now().UTC()
	for i := range issues {
		issue := &issues[i]
		issue.ID = uuid.New()
		issue.PassID = passID
		issue.CreatedAt = now
		_, err := tx.ExecContext(ctx, query,
			issue.ID, issue.PassID, issue.RuleName, issue.Severity,
			issue.ResourceType, issue.Account, issue.Region, issue.Name,
			issue.Notes, issue.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting issue %q for %s: %w", issue.RuleName, issue.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing issue transaction: %w", err)
	}
	return nil
}

// IssuesForPass returns the issues recorded for one audit pass, in a
// stable order.
func (s *Store) IssuesForPass(ctx context.Context, passID uuid.UUID) ([]models.Issue, error) {
	var issues []models.Issue
	query := `
		SELECT id, pass_id, rule_name, severity, resource_type, account, region, name, notes, created_at
		FROM audit_issues
		WHERE pass_id = $1
		ORDER BY rule_name, account, region, name
	`
	err := s.db.SelectContext(ctx, &issues, query, passID)
	if err != nil {
		return nil, fmt.Errorf("loading issues for pass %s: %w", passID, err)
	}
	return issues, nil
}
