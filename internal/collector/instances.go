package collector

import (
	"context"
	"fmt"

	"github.com/keeperhq/cloudkeeper/internal/connectors"
	"github.com/keeperhq/cloudkeeper/internal/models"
)

func (c *Collector) collectInstances(ctx context.Context, conn connectors.InstanceConnector, account, region string) ([]models.Record, error) {
	instances, err := conn.ListInstances(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("listing instances: %w", err)
	}

	c.logger.Debug("found instances", "account", account, "region", region, "count", len(instances))

	records := make([]models.Record, 0, len(instances))
	for _, inst := range instances {
		if c.shouldIgnore(models.ResourceTypeInstance, inst.ID) {
			continue
		}

		tags := inst.Tags
		if tags == nil {
			tags = map[string]string{}
		}

		groups := make([]models.GroupRef, 0, len(inst.Groups))
		for _, g := range inst.Groups {
			groups = append(groups, models.GroupRef{ID: g.ID, Name: g.Name})
		}

		attrs := &models.InstanceAttributes{
			InstanceID:     inst.ID,
			InstanceType:   inst.InstanceType,
			VPCID:          inst.VPCID,
			SubnetID:       inst.SubnetID,
			DNSName:        inst.PrivateDNSName,
			Tags:           tags,
			SecurityGroups: groups,
		}
		attrs.Normalize()

		// Instances have no reliable display name of their own; use the Name
		// tag when present, the private DNS name otherwise.
		name := tags["Name"]
		if name == "" {
			name = inst.PrivateDNSName
		}

		records = append(records, models.Record{
			Type:        models.ResourceTypeInstance,
			Account:     account,
			Region:      region,
			Name:        name,
			StableID:    inst.ID,
			Attributes:  attrs,
			CollectedAt: now(),
		})
	}
	return records, nil
}
