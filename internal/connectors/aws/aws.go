package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/keeperhq/cloudkeeper/internal/connectors"
)

// Connector implements the provider interfaces for one AWS account.
type Connector struct {
	cfg     aws.Config
	account string
}

type Config struct {
	Name          string
	Region        string
	AssumeRoleARN string
	ExternalID    string
}

// New builds a connector for one account. When AssumeRoleARN is set the
// connector assumes that role; otherwise it uses the ambient credential chain.
func New(ctx context.Context, cfg Config) (*Connector, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	if cfg.AssumeRoleARN != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		creds := stscreds.NewAssumeRoleProvider(stsClient, cfg.AssumeRoleARN, func(o *stscreds.AssumeRoleOptions) {
			if cfg.ExternalID != "" {
				o.ExternalID = aws.String(cfg.ExternalID)
			}
		})
		awsCfg.Credentials = aws.NewCredentialsCache(creds)
	}

	account := cfg.Name
	if account == "" {
		stsClient := sts.NewFromConfig(awsCfg)
		identity, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err != nil {
			return nil, fmt.Errorf("getting caller identity: %w", err)
		}
		account = aws.ToString(identity.Account)
	}

	return &Connector{cfg: awsCfg, account: account}, nil
}

func (c *Connector) Account() string {
	return c.account
}

func (c *Connector) Validate(ctx context.Context) error {
	stsClient := sts.NewFromConfig(c.cfg)
	if _, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{}); err != nil {
		return fmt.Errorf("validating credentials for %s: %w", c.account, err)
	}
	return nil
}

// ListRegions returns the regions the account has opted into. DescribeRegions
// is a global call and works regardless of the client's home region.
func (c *Connector) ListRegions(ctx context.Context) ([]string, error) {
	client := ec2.NewFromConfig(c.cfg)
	out, err := client.DescribeRegions(ctx, &ec2.DescribeRegionsInput{
		AllRegions: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("describing regions: %w", err)
	}

	regions := make([]string, 0, len(out.Regions))
	for _, r := range out.Regions {
		if r.RegionName != nil {
			regions = append(regions, *r.RegionName)
		}
	}
	return regions, nil
}

func (c *Connector) ec2Client(region string) *ec2.Client {
	return ec2.NewFromConfig(c.cfg, func(o *ec2.Options) {
		o.Region = region
	})
}

func (c *Connector) ListInstances(ctx context.Context, region string) ([]connectors.Instance, error) {
	paginator := ec2.NewDescribeInstancesPaginator(c.ec2Client(region), &ec2.DescribeInstancesInput{})

	var instances []connectors.Instance
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describing instances in %s: %w", region, err)
		}
		for _, res := range page.Reservations {
			for _, inst := range res.Instances {
				instances = append(instances, toInstance(inst))
			}
		}
	}
	return instances, nil
}

func toInstance(inst ec2types.Instance) connectors.Instance {
	groups := make([]connectors.GroupRef, 0, len(inst.SecurityGroups))
	for _, g := range inst.SecurityGroups {
		groups = append(groups, connectors.GroupRef{
			ID:   aws.ToString(g.GroupId),
			Name: aws.ToString(g.GroupName),
		})
	}
	tags := make(map[string]string, len(inst.Tags))
	for _, t := range inst.Tags {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return connectors.Instance{
		ID:             aws.ToString(inst.InstanceId),
		InstanceType:   string(inst.InstanceType),
		VPCID:          aws.ToString(inst.VpcId),
		SubnetID:       aws.ToString(inst.SubnetId),
		PrivateDNSName: aws.ToString(inst.PrivateDnsName),
		Tags:           tags,
		Groups:         groups,
	}
}

func (c *Connector) ListSecurityGroups(ctx context.Context, region string) ([]connectors.SecurityGroup, error) {
	paginator := ec2.NewDescribeSecurityGroupsPaginator(c.ec2Client(region), &ec2.DescribeSecurityGroupsInput{})

	var groups []connectors.SecurityGroup
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describing security groups in %s: %w", region, err)
		}
		for _, sg := range page.SecurityGroups {
			groups = append(groups, toSecurityGroup(sg))
		}
	}
	return groups, nil
}

// toSecurityGroup flattens each (permission, grant) pair into one rule, so a
// permission with three CIDR grants yields three rules.
func toSecurityGroup(sg ec2types.SecurityGroup) connectors.SecurityGroup {
	var rules []connectors.IngressRule
	for _, perm := range sg.IpPermissions {
		base := connectors.IngressRule{
			IPProtocol: aws.ToString(perm.IpProtocol),
			FromPort:   aws.ToInt32(perm.FromPort),
			ToPort:     aws.ToInt32(perm.ToPort),
		}
		for _, r := range perm.IpRanges {
			rule := base
			rule.CIDRIP = aws.ToString(r.CidrIp)
			rules = append(rules, rule)
		}
		for _, r := range perm.Ipv6Ranges {
			rule := base
			rule.CIDRIP = aws.ToString(r.CidrIpv6)
			rules = append(rules, rule)
		}
		for _, pair := range perm.UserIdGroupPairs {
			rule := base
			rule.GroupID = aws.ToString(pair.GroupId)
			rule.GroupName = aws.ToString(pair.GroupName)
			rule.OwnerID = aws.ToString(pair.UserId)
			rules = append(rules, rule)
		}
	}

	return connectors.SecurityGroup{
		ID:          aws.ToString(sg.GroupId),
		Name:        aws.ToString(sg.GroupName),
		Description: aws.ToString(sg.Description),
		VPCID:       aws.ToString(sg.VpcId),
		OwnerID:     aws.ToString(sg.OwnerId),
		Rules:       rules,
	}
}

func (c *Connector) ListDatabases(ctx context.Context, region string) ([]connectors.Database, error) {
	client := rds.NewFromConfig(c.cfg, func(o *rds.Options) {
		o.Region = region
	})
	paginator := rds.NewDescribeDBInstancesPaginator(client, &rds.DescribeDBInstancesInput{})

	var databases []connectors.Database
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describing database instances in %s: %w", region, err)
		}
		for _, db := range page.DBInstances {
			groups := make([]string, 0, len(db.VpcSecurityGroups))
			for _, g := range db.VpcSecurityGroups {
				groups = append(groups, aws.ToString(g.VpcSecurityGroupId))
			}
			databases = append(databases, connectors.Database{
				ID:     aws.ToString(db.DBInstanceIdentifier),
				Groups: groups,
			})
		}
	}
	return databases, nil
}

func (c *Connector) ListLoadBalancers(ctx context.Context, region string) ([]connectors.LoadBalancer, error) {
	client := elbv2.NewFromConfig(c.cfg, func(o *elbv2.Options) {
		o.Region = region
	})
	paginator := elbv2.NewDescribeLoadBalancersPaginator(client, &elbv2.DescribeLoadBalancersInput{})

	var lbs []connectors.LoadBalancer
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describing load balancers in %s: %w", region, err)
		}
		for _, lb := range page.LoadBalancers {
			lbs = append(lbs, connectors.LoadBalancer{
				Name:   aws.ToString(lb.LoadBalancerName),
				Groups: lb.SecurityGroups,
			})
		}
	}
	return lbs, nil
}

func (c *Connector) ListInstanceTags(ctx context.Context, region string) (map[string]map[string]string, error) {
	paginator := ec2.NewDescribeTagsPaginator(c.ec2Client(region), &ec2.DescribeTagsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("resource-type"), Values: []string{"instance"}},
		},
	})

	tags := make(map[string]map[string]string)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describing instance tags in %s: %w", region, err)
		}
		for _, t := range page.Tags {
			id := aws.ToString(t.ResourceId)
			if tags[id] == nil {
				tags[id] = make(map[string]string)
			}
			tags[id][aws.ToString(t.Key)] = aws.ToString(t.Value)
		}
	}
	return tags, nil
}
