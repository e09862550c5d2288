// Package remote talks to agents served by another process over the
// card/run HTTP contract.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/camdoctor/camdoctor/internal/a2a"
	"github.com/camdoctor/camdoctor/internal/config"
)

const maxBodyBytes = 4 << 20

type Client struct {
	http        *http.Client
	cardTimeout time.Duration
	runTimeout  time.Duration
}

func NewClient(cfg config.RemoteConfig) *Client {
	c := &Client{
		http:        &http.Client{},
		cardTimeout: cfg.CardTimeout,
		runTimeout:  cfg.RunTimeout,
	}
	if c.cardTimeout <= 0 {
		c.cardTimeout = 10 * time.Second
	}
	if c.runTimeout <= 0 {
		c.runTimeout = 60 * time.Second
	}
	return c
}

// WithHTTPClient swaps the transport, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// FetchDescriptor reads the agent card. Any failure reports false; callers
// fall back to Placeholder.
func (c *Client) FetchDescriptor(ctx context.Context, agentID, baseURL string) (a2a.AgentDescriptor, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.cardTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint(baseURL, agentID, "card"), nil)
	if err != nil {
		return a2a.AgentDescriptor{}, false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return a2a.AgentDescriptor{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return a2a.AgentDescriptor{}, false
	}

	var desc a2a.AgentDescriptor
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&desc); err != nil {
		return a2a.AgentDescriptor{}, false
	}
	if desc.ID == "" || desc.Name == "" {
		return a2a.AgentDescriptor{}, false
	}
	return desc, true
}

// Placeholder synthesizes a descriptor for a remote agent whose card could
// not be fetched.
func Placeholder(agentID, baseURL string) a2a.AgentDescriptor {
	return a2a.AgentDescriptor{
		ID:           agentID,
		Name:         capitalize(agentID),
		Description:  "Remote agent at " + baseURL,
		Capabilities: []string{},
		Version:      a2a.DefaultVersion,
	}
}

type runRequest struct {
	Logs    string   `json:"logs"`
	Context *a2a.Map `json:"context"`
}

// Run executes the agent remotely. Failures come back as error results,
// never as Go errors.
func (c *Client) Run(ctx context.Context, agentID, baseURL string, in a2a.TaskInput) a2a.TaskResult {
	res, err := c.run(ctx, agentID, baseURL, in)
	if err != nil {
		return a2a.ErrorResult("Remote agent error", a2a.NewMap().Set("error", a2a.String(err.Error())))
	}
	return res
}

func (c *Client) run(ctx context.Context, agentID, baseURL string, in a2a.TaskInput) (a2a.TaskResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.runTimeout)
	defer cancel()

	body, err := json.Marshal(runRequest{Logs: in.Logs, Context: in.Context})
	if err != nil {
		return a2a.TaskResult{}, fmt.Errorf("marshal input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(baseURL, agentID, "run"), bytes.NewReader(body))
	if err != nil {
		return a2a.TaskResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return a2a.TaskResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return a2a.ErrorResult(fmt.Sprintf("Remote %s HTTP %d", agentID, resp.StatusCode), nil), nil
	}

	var res a2a.TaskResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&res); err != nil {
		return a2a.TaskResult{}, fmt.Errorf("decode result: %w", err)
	}
	return res, nil
}

func endpoint(baseURL, agentID, action string) string {
	return fmt.Sprintf("%s/agent/%s/%s", strings.TrimRight(baseURL, "/"), url.PathEscape(agentID), action)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
