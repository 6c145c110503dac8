package tickets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Ticket is the subset of a tracker issue the sync cares about.
type Ticket struct {
	Key         string
	Summary     string
	Description string
}

// Tracker is the external ticket system the sync talks to.
type Tracker interface {
	// Search returns tickets matching the JQL query.
	Search(ctx context.Context, jql string) ([]Ticket, error)

	// Create opens a new ticket and returns its key.
	Create(ctx context.Context, summary, description string) (string, error)

	// Update replaces the description of an existing ticket.
	Update(ctx context.Context, key, description string) error
}

// JiraClient talks to the Jira REST API v2 with basic auth.
type JiraClient struct {
	server    string
	username  string
	password  string
	project   string
	issueType string
	client    *http.Client
}

type JiraConfig struct {
	Server    string
	Username  string
	Password  string
	Project   string
	IssueType string
}

func NewJiraClient(cfg JiraConfig) *JiraClient {
	issueType := cfg.IssueType
	if issueType == "" {
		issueType = "Task"
	}
	return &JiraClient{
		server:    strings.TrimRight(cfg.Server, "/"),
		username:  cfg.Username,
		password:  cfg.Password,
		project:   cfg.Project,
		issueType: issueType,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

type searchResponse struct {
	Issues []struct {
		Key    string `json:"key"`
		Fields struct {
			Summary     string `json:"summary"`
			Description string `json:"description"`
		} `json:"fields"`
	} `json:"issues"`
}

func (c *JiraClient) Search(ctx context.Context, jql string) ([]Ticket, error) {
	endpoint := fmt.Sprintf("%s/rest/api/2/search?jql=%s&fields=summary,description",
		c.server, url.QueryEscape(jql))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}

	var result searchResponse
	if err := c.do(req, http.StatusOK, &result); err != nil {
		return nil, fmt.Errorf("searching tickets: %w", err)
	}

	tickets := make([]Ticket, 0, len(result.Issues))
	for _, issue := range result.Issues {
		tickets = append(tickets, Ticket{
			Key:         issue.Key,
			Summary:     issue.Fields.Summary,
			Description: issue.Fields.Description,
		})
	}
	return tickets, nil
}

func (c *JiraClient) Create(ctx context.Context, summary, description string) (string, error) {
	body := map[string]any{
		"fields": map[string]any{
			"project":     map[string]string{"key": c.project},
			"issuetype":   map[string]string{"name": c.issueType},
			"summary":     summary,
			"description": description,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.server+"/rest/api/2/issue", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}

	var result struct {
		Key string `json:"key"`
	}
	if err := c.do(req, http.StatusCreated, &result); err != nil {
		return "", fmt.Errorf("creating ticket: %w", err)
	}
	return result.Key, nil
}

func (c *JiraClient) Update(ctx context.Context, key, description string) error {
	body := map[string]any{
		"fields": map[string]string{"description": description},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "PUT", c.server+"/rest/api/2/issue/"+url.PathEscape(key), bytes.NewReader(payload))
	if err != nil {
		return err
	}

	if err := c.do(req, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("updating ticket %s: %w", key, err)
	}
	return nil
}

func (c *JiraClient) do(req *http.Request, wantStatus int, out any) error {
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return fmt.Errorf("jira returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
