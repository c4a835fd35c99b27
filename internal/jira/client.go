package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"atlasauth/internal/auth"
)

// Field is one entry of the Jira field catalog.
type Field struct {
	ID     string `json:"id"`
	Key    string `json:"key,omitempty"`
	Name   string `json:"name"`
	Custom bool   `json:"custom"`
}

// Client is a minimal Jira REST client bound to one site.
type Client struct {
	httpClient  *http.Client
	baseAPIURL  string
	accessToken string
}

// NewClient creates a client for site authenticating with a bearer token.
func NewClient(httpClient *http.Client, site auth.DetailedSiteInfo, accessToken string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient:  httpClient,
		baseAPIURL:  strings.TrimSuffix(site.BaseAPIURL, "/"),
		accessToken: accessToken,
	}
}

// GetFields returns the site's field catalog (GET {baseApiUrl}/api/2/field).
func (c *Client) GetFields(ctx context.Context) ([]Field, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseAPIURL+"/api/2/field", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create fields request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fields request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("fields request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var fields []Field
	if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	return fields, nil
}

// HasField reports whether fields contains a field with the given id.
func HasField(fields []Field, id string) bool {
	for _, f := range fields {
		if f.ID == id {
			return true
		}
	}
	return false
}
