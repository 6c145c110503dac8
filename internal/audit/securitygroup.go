package audit

import (
	"fmt"

	"github.com/keeperhq/cloudkeeper/internal/models"
)

const (
	RuleGroupWorldOpen = "Security group permits world-open ingress"

	severityWorldOpen = models.Severity(5)
)

// checkWorldOpenIngress emits one issue per ingress rule open to the whole
// internet, so tightening a single rule closes a single issue.
func checkWorldOpenIngress(record *models.Record, _ ReferenceData) []models.Issue {
	attrs, ok := record.Attributes.(*models.SecurityGroupAttributes)
	if !ok {
		return nil
	}

	var issues []models.Issue
	for _, rule := range attrs.Rules {
		if rule.CIDRIP != "0.0.0.0/0" && rule.CIDRIP != "::/0" {
			continue
		}
		issues = append(issues, models.Issue{
			RuleName:     RuleGroupWorldOpen,
			Severity:     severityWorldOpen,
			ResourceType: record.Type,
			Account:      record.Account,
			Region:       record.Region,
			Name:         record.Name,
			Notes:        fmt.Sprintf("%s %d-%d from %s", rule.IPProtocol, rule.FromPort, rule.ToPort, rule.CIDRIP),
		})
	}
	return issues
}
