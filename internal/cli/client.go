package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperjump/ragd/internal/models"
)

// Client talks to a running ragd server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for baseURL (e.g. "http://localhost:8080").
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// RAGQuery runs a query on the server. A nil result means unavailable.
func (c *Client) RAGQuery(ctx context.Context, orgID string, q models.RAGQuery) (*models.RetrievalResult, error) {
	var out QueryResponse
	if err := c.do(ctx, http.MethodPost, c.orgPath(orgID, "rag/query"), q, &out); err != nil {
		return nil, err
	}
	if !out.Available {
		return nil, nil
	}
	if out.RetrievalResult == nil {
		return models.EmptyResult(), nil
	}
	if out.Sources == nil {
		out.Sources = []models.Source{}
	}
	return out.RetrievalResult, nil
}

// Invalidate drops the organization's cached chunks, or every organization's when orgID is "".
func (c *Client) Invalidate(ctx context.Context, orgID string) error {
	path := "/api/v1/embedding-cache"
	if orgID != "" {
		path = c.orgPath(orgID, "embedding-cache")
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Status returns the server status.
func (c *Client) Status(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) orgPath(orgID, suffix string) string {
	return "/api/v1/organizations/" + url.PathEscape(orgID) + "/" + suffix
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
