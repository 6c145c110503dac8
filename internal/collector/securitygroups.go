package collector

import (
	"context"
	"fmt"

	"github.com/keeperhq/cloudkeeper/internal/connectors"
	"github.com/keeperhq/cloudkeeper/internal/models"
)

// referentIndex maps a security group's stable ID to everything attaching it.
type referentIndex struct {
	instances     map[string][]connectors.Instance
	databases     map[string][]string
	loadBalancers map[string][]string
	instanceTags  map[string]map[string]string
}

func (c *Collector) collectSecurityGroups(ctx context.Context, conn connectors.SecurityGroupConnector, account, region string) ([]models.Record, error) {
	sgs, err := conn.ListSecurityGroups(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("listing security groups: %w", err)
	}

	var idx *referentIndex
	if c.detail != models.DetailNone {
		idx, err = c.buildReferentIndex(ctx, conn, region)
		if err != nil {
			return nil, err
		}
	}

	c.logger.Debug("found security groups", "account", account, "region", region, "count", len(sgs))

	records := make([]models.Record, 0, len(sgs))
	for _, sg := range sgs {
		if c.shouldIgnore(models.ResourceTypeSecurityGroup, sg.Name) {
			continue
		}

		rules := make([]models.IngressRule, 0, len(sg.Rules))
		for _, r := range sg.Rules {
			rules = append(rules, models.IngressRule{
				IPProtocol: r.IPProtocol,
				FromPort:   r.FromPort,
				ToPort:     r.ToPort,
				CIDRIP:     r.CIDRIP,
				GroupID:    r.GroupID,
				GroupName:  r.GroupName,
				OwnerID:    r.OwnerID,
			})
		}

		attrs := &models.SecurityGroupAttributes{
			GroupID:     sg.ID,
			GroupName:   sg.Name,
			Description: sg.Description,
			VPCID:       sg.VPCID,
			OwnerID:     sg.OwnerID,
			Region:      region,
			Rules:       rules,
			AssignedTo:  c.assignment(sg.ID, idx),
		}
		attrs.Normalize()

		records = append(records, models.Record{
			Type:        models.ResourceTypeSecurityGroup,
			Account:     account,
			Region:      region,
			Name:        disambiguateName(sg),
			StableID:    sg.ID,
			Attributes:  attrs,
			CollectedAt: now(),
		})
	}
	return records, nil
}

func (c *Collector) buildReferentIndex(ctx context.Context, conn connectors.SecurityGroupConnector, region string) (*referentIndex, error) {
	instances, err := conn.ListInstances(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("listing instances for correlation: %w", err)
	}
	databases, err := conn.ListDatabases(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("listing databases for correlation: %w", err)
	}
	loadBalancers, err := conn.ListLoadBalancers(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("listing load balancers for correlation: %w", err)
	}

	idx := &referentIndex{
		instances:     make(map[string][]connectors.Instance),
		databases:     make(map[string][]string),
		loadBalancers: make(map[string][]string),
	}
	for _, inst := range instances {
		for _, g := range inst.Groups {
			idx.instances[g.ID] = append(idx.instances[g.ID], inst)
		}
	}
	for _, db := range databases {
		for _, gid := range db.Groups {
			idx.databases[gid] = append(idx.databases[gid], db.ID)
		}
	}
	for _, lb := range loadBalancers {
		for _, gid := range lb.Groups {
			idx.loadBalancers[gid] = append(idx.loadBalancers[gid], lb.Name)
		}
	}

	if c.detail == models.DetailFull {
		idx.instanceTags, err = conn.ListInstanceTags(ctx, region)
		if err != nil {
			return nil, fmt.Errorf("listing instance tags for correlation: %w", err)
		}
	}

	return idx, nil
}

func (c *Collector) assignment(groupID string, idx *referentIndex) *models.Assignment {
	switch c.detail {
	case models.DetailSummary:
		count := len(idx.instances[groupID]) + len(idx.databases[groupID])
		return &models.Assignment{Summary: fmt.Sprintf("%d instances", count)}

	case models.DetailFull:
		var refs []models.Referent
		for _, inst := range idx.instances[groupID] {
			tags := idx.instanceTags[inst.ID]
			if tags == nil {
				tags = inst.Tags
			}
			refs = append(refs, models.Referent{
				Kind: models.ReferentInstance,
				ID:   inst.ID,
				Tags: tags,
			})
		}
		for _, id := range idx.databases[groupID] {
			refs = append(refs, models.Referent{Kind: models.ReferentDatabase, ID: id})
		}
		for _, name := range idx.loadBalancers[groupID] {
			refs = append(refs, models.Referent{Kind: models.ReferentLoadBalancer, ID: name})
		}
		return &models.Assignment{Referents: refs}

	default:
		return nil
	}
}

// disambiguateName appends the group ID (and VPC when set) to the display
// name. Group names can collide between VPCs within one region; the raw name
// alone is not a usable identity.
func disambiguateName(sg connectors.SecurityGroup) string {
	if sg.VPCID != "" {
		return fmt.Sprintf("%s (%s in %s)", sg.Name, sg.ID, sg.VPCID)
	}
	return fmt.Sprintf("%s (%s)", sg.Name, sg.ID)
}
