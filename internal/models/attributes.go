package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// AttributeSet is the normalized configuration payload of a Record.
// Implementations must sort every sequence-valued field by its full field
// tuple in Normalize, so that semantically identical configurations always
// serialize to byte-identical JSON. Change detection in the record store
// depends on this invariant; an unsorted sequence produces false deltas.
type AttributeSet interface {
	Normalize()
}

// Serialize normalizes attrs and returns its canonical JSON form. Map keys
// are emitted in sorted order by encoding/json, so the result is
// deterministic once sequences are normalized.
func Serialize(attrs AttributeSet) ([]byte, error) {
	if attrs == nil {
		return nil, fmt.Errorf("nil attribute set")
	}
	attrs.Normalize()
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("serializing attributes: %w", err)
	}
	return data, nil
}

// GroupRef identifies a security group attached to an instance.
type GroupRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// InstanceAttributes is the normalized configuration of a compute instance.
type InstanceAttributes struct {
	InstanceID     string            `json:"id"`
	InstanceType   string            `json:"type"`
	VPCID          string            `json:"vpc_id"`
	SubnetID       string            `json:"subnet_id"`
	DNSName        string            `json:"dns_name"`
	Tags           map[string]string `json:"tags"`
	SecurityGroups []GroupRef        `json:"security_groups"`
}

func (a *InstanceAttributes) Normalize() {
	sort.Slice(a.SecurityGroups, func(i, j int) bool {
		if a.SecurityGroups[i].ID != a.SecurityGroups[j].ID {
			return a.SecurityGroups[i].ID < a.SecurityGroups[j].ID
		}
		return a.SecurityGroups[i].Name < a.SecurityGroups[j].Name
	})
}

// IngressRule is one flattened security group rule: one (permission, grant)
// pair. Either CIDRIP or GroupID is set depending on the grant kind.
type IngressRule struct {
	IPProtocol string `json:"ip_protocol"`
	FromPort   int32  `json:"from_port"`
	ToPort     int32  `json:"to_port"`
	CIDRIP     string `json:"cidr_ip"`
	GroupID    string `json:"group_id"`
	GroupName  string `json:"name"`
	OwnerID    string `json:"owner_id"`
}

func (r IngressRule) less(o IngressRule) bool {
	if r.IPProtocol != o.IPProtocol {
		return r.IPProtocol < o.IPProtocol
	}
	if r.FromPort != o.FromPort {
		return r.FromPort < o.FromPort
	}
	if r.ToPort != o.ToPort {
		return r.ToPort < o.ToPort
	}
	if r.CIDRIP != o.CIDRIP {
		return r.CIDRIP < o.CIDRIP
	}
	if r.GroupID != o.GroupID {
		return r.GroupID < o.GroupID
	}
	if r.GroupName != o.GroupName {
		return r.GroupName < o.GroupName
	}
	return r.OwnerID < o.OwnerID
}

// Referent is one resource attaching a security group: an instance, a managed
// database, or a load balancer. Tags are populated for instance referents at
// FULL detail.
type Referent struct {
	Kind string            `json:"kind"`
	ID   string            `json:"id"`
	Tags map[string]string `json:"tags,omitempty"`
}

const (
	ReferentInstance     = "instance"
	ReferentDatabase     = "database"
	ReferentLoadBalancer = "load_balancer"
)

// Assignment is the correlation payload attached to a security group record.
// Summary is set at SUMMARY detail, Referents at FULL.
type Assignment struct {
	Summary   string     `json:"summary,omitempty"`
	Referents []Referent `json:"referents,omitempty"`
}

// SecurityGroupAttributes is the normalized configuration of one security
// group and its flattened ingress rules.
type SecurityGroupAttributes struct {
	GroupID     string        `json:"id"`
	GroupName   string        `json:"name"`
	Description string        `json:"description"`
	VPCID       string        `json:"vpc_id"`
	OwnerID     string        `json:"owner_id"`
	Region      string        `json:"region"`
	Rules       []IngressRule `json:"rules"`
	AssignedTo  *Assignment   `json:"assigned_to"`
}

func (a *SecurityGroupAttributes) Normalize() {
	sort.Slice(a.Rules, func(i, j int) bool {
		return a.Rules[i].less(a.Rules[j])
	})
	if a.AssignedTo != nil {
		sort.Slice(a.AssignedTo.Referents, func(i, j int) bool {
			if a.AssignedTo.Referents[i].Kind != a.AssignedTo.Referents[j].Kind {
				return a.AssignedTo.Referents[i].Kind < a.AssignedTo.Referents[j].Kind
			}
			return a.AssignedTo.Referents[i].ID < a.AssignedTo.Referents[j].ID
		})
	}
}
