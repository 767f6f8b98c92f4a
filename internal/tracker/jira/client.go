// Package jira implements the incident issue tracker on top of the Jira
// REST API v2.
package jira

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Horgix/incidents-automation-app/internal/incidents"
	jira "github.com/andygrunwald/go-jira"
)

const defaultTimeout = 10 * time.Second

// Config holds Jira client configuration.
type Config struct {
	URL      string
	Username string
	Password string // password or API token
	Timeout  time.Duration
}

// Client implements incidents.IssueTracker.
type Client struct {
	api *jira.Client
}

// NewClient creates a new Jira client authenticating with basic auth.
func NewClient(config Config) (*Client, error) {
	if config.URL == "" {
		return nil, errors.New("jira client: url is required")
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	transport := jira.BasicAuthTransport{
		Username: config.Username,
		Password: config.Password,
	}
	httpClient := transport.Client()
	httpClient.Timeout = config.Timeout

	api, err := jira.NewClient(httpClient, config.URL)
	if err != nil {
		return nil, fmt.Errorf("create jira client: %w", err)
	}

	return &Client{api: api}, nil
}

// CreateIssue creates an issue and returns its key.
func (c *Client) CreateIssue(ctx context.Context, project, issueType, summary, description string) (string, error) {
	issue, resp, err := c.api.Issue.CreateWithContext(ctx, &jira.Issue{
		Fields: &jira.IssueFields{
			Project:     jira.Project{Key: project},
			Type:        jira.IssueType{Name: issueType},
			Summary:     summary,
			Description: description,
		},
	})
	if err != nil {
		return "", fmt.Errorf("create issue in %s: %w", project, responseError(resp, err))
	}

	slog.Debug("jira issue created", "key", issue.Key)
	return issue.Key, nil
}

// AddComment comments on an issue.
func (c *Client) AddComment(ctx context.Context, issueKey, text string) error {
	_, resp, err := c.api.Issue.AddCommentWithContext(ctx, issueKey, &jira.Comment{Body: text})
	if err != nil {
		return fmt.Errorf("comment on %s: %w", issueKey, responseError(resp, err))
	}
	return nil
}

// TransitionIssue applies a workflow transition. Returns
// incidents.ErrNoSuchTransition when the transition is not available from
// the issue's current status.
func (c *Client) TransitionIssue(ctx context.Context, issueKey, transitionID string) error {
	resp, err := c.api.Issue.DoTransitionWithContext(ctx, issueKey, transitionID)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusBadRequest {
			return fmt.Errorf("transition %s on %s: %w", transitionID, issueKey, incidents.ErrNoSuchTransition)
		}
		return fmt.Errorf("transition %s on %s: %w", transitionID, issueKey, responseError(resp, err))
	}
	return nil
}

// responseError adds the HTTP status to go-jira errors.
func responseError(resp *jira.Response, err error) error {
	if resp == nil || resp.Response == nil {
		return err
	}
	return fmt.Errorf("status %d: %w", resp.StatusCode, err)
}
