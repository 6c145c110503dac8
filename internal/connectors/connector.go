package connectors

import (
	"context"
)

// Connector is a per-account client for one cloud provider. Implementations
// own credential handling and any rate-limit or retry policy; callers treat
// listing failures in one region as isolated from every other region.
type Connector interface {
	// Account returns the display name of the account this connector serves.
	Account() string

	// Validate tests the connection and permissions.
	Validate(ctx context.Context) error

	// ListRegions returns the regions enabled for the account.
	ListRegions(ctx context.Context) ([]string, error)
}

// InstanceConnector lists compute instances.
type InstanceConnector interface {
	Connector

	// ListInstances returns all compute instances in a region.
	ListInstances(ctx context.Context, region string) ([]Instance, error)
}

// SecurityGroupConnector lists security groups plus the auxiliary
// inventories the collector cross-references them against.
type SecurityGroupConnector interface {
	Connector

	// ListSecurityGroups returns all security groups in a region.
	ListSecurityGroups(ctx context.Context, region string) ([]SecurityGroup, error)

	// ListInstances returns all compute instances in a region.
	ListInstances(ctx context.Context, region string) ([]Instance, error)

	// ListDatabases returns all managed database instances in a region.
	ListDatabases(ctx context.Context, region string) ([]Database, error)

	// ListLoadBalancers returns all load balancers in a region.
	ListLoadBalancers(ctx context.Context, region string) ([]LoadBalancer, error)

	// ListInstanceTags returns tags for every instance in a region, keyed by
	// instance ID.
	ListInstanceTags(ctx context.Context, region string) (map[string]map[string]string, error)
}

// GroupRef identifies a security group attached to an instance.
type GroupRef struct {
	ID   string
	Name string
}

// Instance contains raw compute instance data.
type Instance struct {
	ID             string
	InstanceType   string
	VPCID          string
	SubnetID       string
	PrivateDNSName string
	Tags           map[string]string
	Groups         []GroupRef
}

// IngressRule is one (permission, grant) pair of a security group rule.
type IngressRule struct {
	IPProtocol string
	FromPort   int32
	ToPort     int32
	CIDRIP     string
	GroupID    string
	GroupName  string
	OwnerID    string
}

// SecurityGroup contains raw security group data.
type SecurityGroup struct {
	ID          string
	Name        string
	Description string
	VPCID       string
	OwnerID     string
	Rules       []IngressRule
}

// Database contains the subset of managed database data the collector
// correlates: identity plus attached security groups.
type Database struct {
	ID     string
	Groups []string
}

// LoadBalancer contains the subset of load balancer data the collector
// correlates: identity plus attached security groups.
type LoadBalancer struct {
	Name   string
	Groups []string
}
