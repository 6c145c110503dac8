package audit

import (
	"sort"

	"github.com/keeperhq/cloudkeeper/internal/models"
)

type groupKey struct {
	rule    string
	rt      models.ResourceType
	account string
}

// Aggregate groups open issues by (rule name, resource type, account) and
// counts them. Rule names are compared exactly; two checks emitting the same
// text land in the same group. The result is sorted so repeated passes over
// the same issues produce identical output.
func Aggregate(issues []models.Issue) []models.AuditSetting {
	counts := make(map[groupKey]int)
	for _, issue := range issues {
		counts[groupKey{issue.RuleName, issue.ResourceType, issue.Account}]++
	}

	settings := make([]models.AuditSetting, 0, len(counts))
	for key, count := range counts {
		settings = append(settings, models.AuditSetting{
			IssueText:    key.rule,
			ResourceType: key.rt,
			Account:      key.account,
			OpenCount:    count,
		})
	}

	sort.Slice(settings, func(i, j int) bool {
		a, b := settings[i], settings[j]
		if a.IssueText != b.IssueText {
			return a.IssueText < b.IssueText
		}
		if a.ResourceType != b.ResourceType {
			return a.ResourceType < b.ResourceType
		}
		return a.Account < b.Account
	})
	return settings
}
