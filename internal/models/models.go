package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Provider string

const (
	ProviderAWS Provider = "AWS"
)

// ResourceType identifies the kind of cloud resource a Record describes.
type ResourceType string

const (
	ResourceTypeInstance      ResourceType = "instance"
	ResourceTypeSecurityGroup ResourceType = "securitygroup"
)

// DetailLevel controls how much cross-referenced data the collector attaches
// to a security group record.
type DetailLevel string

const (
	DetailNone    DetailLevel = "NONE"
	DetailSummary DetailLevel = "SUMMARY"
	DetailFull    DetailLevel = "FULL"
)

// Severity is an ordinal scale for audit issues. Higher is more severe.
type Severity int

// ResourceRef is the identity quadruple of a collected resource. Name is a
// display label and may be synthesized; StableID on the Record is the
// provider-assigned identifier used for cross-referencing.
type ResourceRef struct {
	Type    ResourceType `json:"resource_type" db:"resource_type"`
	Account string       `json:"account" db:"account"`
	Region  string       `json:"region" db:"region"`
	Name    string       `json:"name" db:"name"`
}

func (r ResourceRef) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", r.Type, r.Account, r.Region, r.Name)
}

// Record is a normalized snapshot of one cloud resource's configuration at
// one point in time. Records are superseded, never mutated: each collection
// cycle produces a fresh Record for the same identity quadruple.
type Record struct {
	Type        ResourceType
	Account     string
	Region      string
	Name        string
	StableID    string
	Attributes  AttributeSet
	CollectedAt time.Time
}

func (r *Record) Ref() ResourceRef {
	return ResourceRef{Type: r.Type, Account: r.Account, Region: r.Region, Name: r.Name}
}

// Issue is one policy violation found on one Record during one audit pass.
// Issues are never edited after creation; the next pass produces fresh ones.
// ID and timestamps are assigned at persistence time so that evaluating the
// same Record twice yields structurally identical issues.
type Issue struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	PassID       uuid.UUID    `json:"pass_id" db:"pass_id"`
	RuleName     string       `json:"rule_name" db:"rule_name"`
	Severity     Severity     `json:"severity" db:"severity"`
	ResourceType ResourceType `json:"resource_type" db:"resource_type"`
	Account      string       `json:"account" db:"account"`
	Region       string       `json:"region" db:"region"`
	Name         string       `json:"name" db:"name"`
	Notes        string       `json:"notes,omitempty" db:"notes"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}

func (i *Issue) Resource() ResourceRef {
	return ResourceRef{Type: i.ResourceType, Account: i.Account, Region: i.Region, Name: i.Name}
}

// AuditSetting is the aggregate tracking state for one
// (rule, resource type, account) triple: the rule text being tracked and the
// number of currently-open issues rolled up under it. OpenCount is recomputed
// each sync cycle.
type AuditSetting struct {
	IssueText    string       `json:"issue_text"`
	ResourceType ResourceType `json:"resource_type"`
	Account      string       `json:"account"`
	OpenCount    int          `json:"open_count"`
}

// FailureKey locates a partial collection failure: one resource type in one
// account/region. Region is empty when region enumeration itself failed for
// the account.
type FailureKey struct {
	Type    ResourceType
	Account string
	Region  string
}

func (k FailureKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Type, k.Account, k.Region)
}
