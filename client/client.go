// Package client is a thin HTTP SDK for bot authors: it wraps the
// Dispatcher's authenticated endpoints (update_code, get_part_info,
// latest_versions_info) behind Go method calls. CLI ergonomics around it
// are out of scope (spec.md §1's Non-goals); this is only the wire
// client.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"lineup"
)

// Client is a Dispatcher client authenticated as one Bot.
type Client struct {
	BaseURL string
	Token   string

	HTTPClient *http.Client
}

// New returns a Client against baseURL (e.g. "http://localhost:8080"),
// authenticating every call with token.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// UpdateCode submits source under cls_name as this bot's next
// CodeVersion. Updated is false if source and cls_name match the
// already-latest version.
func (c *Client) UpdateCode(ctx context.Context, source, clsName string) (updated bool, err error) {
	body := struct {
		Source  string `json:"source"`
		ClsName string `json:"cls_name"`
	}{source, clsName}

	var resp struct {
		Updated bool `json:"updated"`
	}
	if err := c.do(ctx, http.MethodPost, "/update_code", body, &resp); err != nil {
		return false, err
	}
	return resp.Updated, nil
}

// ParticipantInfo returns up to the last 20 of this bot's finished
// participations created after since (zero value means "all").
func (c *Client) ParticipantInfo(ctx context.Context, since time.Time) ([]lineup.ParticipantInfo, error) {
	path := "/get_part_info/"
	if !since.IsZero() {
		path += "?after=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	}

	var out []lineup.ParticipantInfo
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LatestVersionsInfo returns up to the last 20 of this bot's
// CodeVersions, oldest first, each annotated with a crash or aggregate
// stats.
func (c *Client) LatestVersionsInfo(ctx context.Context) ([]lineup.VersionInfo, error) {
	var out []lineup.VersionInfo
	if err := c.do(ctx, http.MethodGet, "/latest_versions_info/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// do performs one authenticated request, JSON-encoding body (if non-nil)
// and JSON-decoding the response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("dispatcher: %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
