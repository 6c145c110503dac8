package audit

import (
	"reflect"
	"testing"

	"github.com/keeperhq/cloudkeeper/internal/models"
)

func TestAggregate(t *testing.T) {
	issue := func(rule, account string, rt models.ResourceType) models.Issue {
		return models.Issue{RuleName: rule, ResourceType: rt, Account: account, Region: "us-east-1"}
	}

	issues := []models.Issue{
		issue(RuleInstanceNoOwner, "prod", models.ResourceTypeInstance),
		issue(RuleInstanceNoOwner, "prod", models.ResourceTypeInstance),
		issue(RuleInstanceNoOwner, "staging", models.ResourceTypeInstance),
		issue(RuleGroupWorldOpen, "prod", models.ResourceTypeSecurityGroup),
	}

	got := Aggregate(issues)
	want := []models.AuditSetting{
		{IssueText: RuleInstanceNoOwner, ResourceType: models.ResourceTypeInstance, Account: "prod", OpenCount: 2},
		{IssueText: RuleInstanceNoOwner, ResourceType: models.ResourceTypeInstance, Account: "staging", OpenCount: 1},
		{IssueText: RuleGroupWorldOpen, ResourceType: models.ResourceTypeSecurityGroup, Account: "prod", OpenCount: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Aggregate = %+v, want %+v", got, want)
	}
}

func TestAggregate_ExactStringGrouping(t *testing.T) {
	issues := []models.Issue{
		{RuleName: "EC2 instance has no owner tag", ResourceType: models.ResourceTypeInstance, Account: "prod"},
		{RuleName: "EC2 instance has no owner tag ", ResourceType: models.ResourceTypeInstance, Account: "prod"},
	}
	got := Aggregate(issues)
	if len(got) != 2 {
		t.Errorf("rule texts differing by whitespace must not merge, got %+v", got)
	}
}

func TestAggregate_Empty(t *testing.T) {
	if got := Aggregate(nil); len(got) != 0 {
		t.Errorf("Aggregate(nil) = %+v, want empty", got)
	}
}
