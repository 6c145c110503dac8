package audit

import (
	"strings"

	"github.com/keeperhq/cloudkeeper/internal/models"
)

const (
	RuleInstanceNoOwner    = "EC2 instance has no owner tag"
	RuleInstanceNoCreator  = "EC2 instance has no creator tag"
	RuleInstanceBadOwner   = "EC2 instance owner tag is not a recognized team"
	RuleInstanceBadCreator = "EC2 instance creator tag is not a recognized user"

	severityMissingTag      = models.Severity(3)
	severityUnrecognizedTag = models.Severity(2)
)

func instanceIssue(record *models.Record, rule string, severity models.Severity, notes string) models.Issue {
	return models.Issue{
		RuleName:     rule,
		Severity:     severity,
		ResourceType: record.Type,
		Account:      record.Account,
		Region:       record.Region,
		Name:         record.Name,
		Notes:        notes,
	}
}

func checkInstanceOwner(record *models.Record, ref ReferenceData) []models.Issue {
	attrs, ok := record.Attributes.(*models.InstanceAttributes)
	if !ok {
		return nil
	}

	owner, present := attrs.Tags["owner"]
	if !present || owner == "" {
		return []models.Issue{instanceIssue(record, RuleInstanceNoOwner, severityMissingTag, "")}
	}

	// Owner tags may carry a full address ("payments-team@yelp.com") or a
	// hyphenated form of the team name.
	team := strings.TrimSuffix(owner, "@"+ref.EmailDomain)
	team = strings.ReplaceAll(team, "-", "_")
	if !ref.Teams[team] {
		return []models.Issue{instanceIssue(record, RuleInstanceBadOwner, severityUnrecognizedTag, owner)}
	}
	return nil
}

func checkInstanceCreator(record *models.Record, ref ReferenceData) []models.Issue {
	attrs, ok := record.Attributes.(*models.InstanceAttributes)
	if !ok {
		return nil
	}

	creator, present := attrs.Tags["creator"]
	if !present || creator == "" {
		return []models.Issue{instanceIssue(record, RuleInstanceNoCreator, severityMissingTag, "")}
	}

	user := strings.TrimSuffix(creator, "@"+ref.EmailDomain)
	if !ref.Users[user] {
		return []models.Issue{instanceIssue(record, RuleInstanceBadCreator, severityUnrecognizedTag, creator)}
	}
	return nil
}
