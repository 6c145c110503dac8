package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/keeperhq/cloudkeeper/internal/models"
)

// PassReport summarizes one completed collection and audit pass.
type PassReport struct {
	PassID       string
	ResourceType models.ResourceType
	Records      int
	Changed      int
	Issues       int
	Failures     int
	Duration     time.Duration
}

// SlackConfig holds Slack webhook configuration
type SlackConfig struct {
	WebhookURL string
	Channel    string
	Username   string
	Enabled    bool
}

// Service posts pass reports to Slack.
type Service struct {
	config SlackConfig
	logger *slog.Logger
	client *http.Client
}

func NewService(config SlackConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		config: config,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// SlackMessage represents a Slack message payload
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack attachment
type SlackAttachment struct {
	Color    string       `json:"color,omitempty"`
	Title    string       `json:"title,omitempty"`
	Fallback string       `json:"fallback,omitempty"`
	Fields   []SlackField `json:"fields,omitempty"`
	Footer   string       `json:"footer,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// ReportPass posts the pass summary. Disabled config is a no-op.
func (s *Service) ReportPass(ctx context.Context, report PassReport) error {
	if !s.config.Enabled {
		return nil
	}

	color := "#36A64F"
	if report.Failures > 0 {
		color = "#FFA500"
	}

	title := fmt.Sprintf("Audit pass complete: %s", report.ResourceType)
	msg := SlackMessage{
		Channel:  s.config.Channel,
		Username: s.config.Username,
		Attachments: []SlackAttachment{
			{
				Color:    color,
				Title:    title,
				Fallback: fmt.Sprintf("%s: %d records, %d issues", title, report.Records, report.Issues),
				Fields: []SlackField{
					{Title: "Records", Value: fmt.Sprintf("%d", report.Records), Short: true},
					{Title: "Changed", Value: fmt.Sprintf("%d", report.Changed), Short: true},
					{Title: "Open Issues", Value: fmt.Sprintf("%d", report.Issues), Short: true},
					{Title: "Collection Failures", Value: fmt.Sprintf("%d", report.Failures), Short: true},
					{Title: "Duration", Value: report.Duration.Round(time.Second).String(), Short: true},
					{Title: "Pass", Value: report.PassID, Short: true},
				},
				Footer: "cloudkeeper",
			},
		},
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	s.logger.Info("slack pass report sent",
		"resource_type", report.ResourceType,
		"records", report.Records,
		"issues", report.Issues)
	return nil
}
