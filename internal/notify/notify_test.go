package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/keeperhq/cloudkeeper/internal/models"
)

func TestReportPass(t *testing.T) {
	var got SlackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := NewService(SlackConfig{
		WebhookURL: srv.URL,
		Channel:    "#cloudkeeper",
		Username:   "cloudkeeper",
		Enabled:    true,
	}, nil)

	err := svc.ReportPass(context.Background(), PassReport{
		PassID:       "9ab6c1e0",
		ResourceType: models.ResourceTypeInstance,
		Records:      120,
		Changed:      4,
		Issues:       9,
		Failures:     1,
		Duration:     95 * time.Second,
	})
	if err != nil {
		t.Fatalf("ReportPass failed: %v", err)
	}

	if got.Channel != "#cloudkeeper" {
		t.Errorf("channel = %q", got.Channel)
	}
	if len(got.Attachments) != 1 {
		t.Fatalf("got %d attachments, want 1", len(got.Attachments))
	}
	att := got.Attachments[0]
	if att.Color != "#FFA500" {
		t.Errorf("color = %q, want warning color when failures > 0", att.Color)
	}
	fields := map[string]string{}
	for _, f := range att.Fields {
		fields[f.Title] = f.Value
	}
	if fields["Records"] != "120" || fields["Open Issues"] != "9" || fields["Collection Failures"] != "1" {
		t.Errorf("unexpected fields: %v", fields)
	}
}

func TestReportPass_Disabled(t *testing.T) {
	svc := NewService(SlackConfig{Enabled: false, WebhookURL: "http://127.0.0.1:1"}, nil)
	if err := svc.ReportPass(context.Background(), PassReport{}); err != nil {
		t.Errorf("disabled service should be a no-op, got %v", err)
	}
}

func TestReportPass_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc := NewService(SlackConfig{WebhookURL: srv.URL, Enabled: true}, nil)
	if err := svc.ReportPass(context.Background(), PassReport{}); err == nil {
		t.Error("expected error on non-200 response")
	}
}
