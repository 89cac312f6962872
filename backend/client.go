// Package backend is the HTTP transport to the multi-agent answering
// service. It is deliberately thin: it moves JSON and event-stream bytes
// and classifies transport failures, nothing more. Interpreting the
// response is the run layer's job.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/smallnest/crewrelay/agents"
	"github.com/smallnest/crewrelay/types"
)

// Tier names a provider tier. The orchestrator picks the tier; the backend
// maps it to a concrete provider via configuration.
type Tier string

const (
	TierPrimary   Tier = "primary"
	TierSecondary Tier = "secondary"
)

// Turn is one prior conversation turn sent as request context.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the body of one run request.
type Request struct {
	Message   string   `json:"message"`
	SessionID *string  `json:"session_id"`
	History   []Turn   `json:"history"`
	Repos     []string `json:"repos"`
}

// NewRequest builds a request body. An empty sessionID is sent as null so
// the backend opens a fresh session.
func NewRequest(message, sessionID string, history []Turn, repos []string) *Request {
	req := &Request{
		Message: message,
		History: history,
		Repos:   repos,
	}
	if sessionID != "" {
		req.SessionID = &sessionID
	}
	if req.History == nil {
		req.History = []Turn{}
	}
	if req.Repos == nil {
		req.Repos = []string{}
	}
	return req
}

// Client calls the answering backend.
type Client struct {
	baseURL    string
	chatPath   string
	multiPath  string
	streamPath string
	httpClient *http.Client
}

// NewClient creates a backend client. Paths fall back to the conventional
// endpoints when empty. The http.Client should carry no timeout of its own:
// the run layer races calls against a logical deadline and ignores, rather
// than aborts, the loser.
func NewClient(baseURL string, httpClient *http.Client, chatPath, multiPath, streamPath string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if chatPath == "" {
		chatPath = "/api/chat"
	}
	if multiPath == "" {
		multiPath = "/api/multi-agent"
	}
	if streamPath == "" {
		streamPath = "/api/multi-agent/stream"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		chatPath:   chatPath,
		multiPath:  multiPath,
		streamPath: streamPath,
		httpClient: httpClient,
	}
}

func (c *Client) endpoint(path, provider string) string {
	u := c.baseURL + path
	if provider != "" {
		u += "?provider=" + url.QueryEscape(provider)
	}
	return u
}

// Complete issues the single opaque request/response call and returns the
// raw response body. Non-2xx statuses become a TransportError with the body
// surfaced verbatim.
func (c *Client) Complete(ctx context.Context, mode agents.Mode, provider string, req *Request) ([]byte, error) {
	path := c.chatPath
	if mode == agents.ModeMulti {
		path = c.multiPath
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	hReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, provider), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	hReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(hReq)
	if err != nil {
		return nil, fmt.Errorf("call backend: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &types.TransportError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// Stream opens the live event feed for a run. The caller owns the returned
// body and must close it.
func (c *Client) Stream(ctx context.Context, provider string, req *Request) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	hReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.streamPath, provider), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	hReq.Header.Set("Content-Type", "application/json")
	hReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(hReq)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &types.TransportError{Status: resp.StatusCode, Body: string(body)}
	}
	return resp.Body, nil
}
