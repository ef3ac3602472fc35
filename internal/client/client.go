// Package client talks to a running courier over its HTTP transport: the
// message channel for callers and the admin routes for operators.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/courier/internal/api"
	"github.com/mattjoyce/courier/internal/auth"
	"github.com/mattjoyce/courier/internal/background"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/journal"
	"github.com/mattjoyce/courier/internal/protocol"
)

// ErrChannel reports a transport failure: the call never produced a
// decodable response.
var ErrChannel = errors.New("channel call failed")

// StatusError is a non-2xx admin response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("courier: %d %s: %s", e.Code, http.StatusText(e.Code), e.Message)
}

// Client is one connection to a courier instance.
type Client struct {
	baseURL     string
	token       string
	contentType string
	http        *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithCBOR sends and receives messages as CBOR instead of JSON.
func WithCBOR() Option {
	return func(c *Client) { c.contentType = protocol.ContentTypeCBOR }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		contentType: protocol.ContentTypeJSON,
		http:        &http.Client{Timeout: 2 * time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Call sends one request and decodes the host's response. A transport
// failure or an unparseable reply wraps ErrChannel; a failed command is a
// Response with Success false, not an error.
func (c *Client) Call(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	var body bytes.Buffer
	if err := protocol.WriteMessage(&body, c.contentType, protocol.EncodeRequest(req)); err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrChannel, err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/message", &body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannel, err)
	}
	httpReq.Header.Set("Content-Type", c.contentType)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannel, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %w", ErrChannel, readStatusError(httpResp))
	}

	msg, err := protocol.ReadMessage(httpResp.Body, c.contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: read reply: %v", ErrChannel, err)
	}
	resp, err := protocol.DecodeResponse(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannel, err)
	}
	return resp, nil
}

func (c *Client) Health(ctx context.Context) (api.HealthzResponse, error) {
	var h api.HealthzResponse
	err := c.getJSON(ctx, "/healthz", &h)
	return h, err
}

func (c *Client) Pending(ctx context.Context) ([]auth.PendingRequest, error) {
	var out []auth.PendingRequest
	err := c.getJSON(ctx, "/grants/pending", &out)
	return out, err
}

func (c *Client) Approve(ctx context.Context, id string) (auth.PendingRequest, error) {
	var out auth.PendingRequest
	err := c.postJSON(ctx, "/grants/pending/"+url.PathEscape(id)+"/approve", nil, &out)
	return out, err
}

func (c *Client) Deny(ctx context.Context, id string) (auth.PendingRequest, error) {
	var out auth.PendingRequest
	err := c.postJSON(ctx, "/grants/pending/"+url.PathEscape(id)+"/deny", nil, &out)
	return out, err
}

// Grants returns the scopes granted to identity.
func (c *Client) Grants(ctx context.Context, identity string) ([]string, error) {
	var out api.GrantsResponse
	err := c.getJSON(ctx, "/grants/"+url.PathEscape(identity), &out)
	return out.Scopes, err
}

// Revoke removes scopes from identity and returns what remains.
func (c *Client) Revoke(ctx context.Context, identity string, scopes []string) ([]string, error) {
	var out api.GrantsResponse
	err := c.postJSON(ctx, "/grants/"+url.PathEscape(identity)+"/revoke", api.ScopesRequest{Scopes: scopes}, &out)
	return out.Scopes, err
}

func (c *Client) Units(ctx context.Context) ([]background.Status, error) {
	var out api.UnitsResponse
	err := c.getJSON(ctx, "/units", &out)
	return out.Units, err
}

// Reconcile asks the host to drop orphaned registrations. A partial failure
// returns the partial result alongside the error.
func (c *Client) Reconcile(ctx context.Context) (background.ReconcileResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/units/reconcile", nil)
	if err != nil {
		return background.ReconcileResult{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return background.ReconcileResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out background.ReconcileResult
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return out, fmt.Errorf("decode reconcile response: %w", err)
		}
		return out, nil
	case http.StatusMultiStatus:
		var partial struct {
			Result background.ReconcileResult `json:"result"`
			Error  string                     `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&partial); err != nil {
			return partial.Result, fmt.Errorf("decode reconcile response: %w", err)
		}
		return partial.Result, errors.New(partial.Error)
	default:
		return background.ReconcileResult{}, readStatusError(resp)
	}
}

func (c *Client) Activations(ctx context.Context, limit int) ([]journal.Entry, error) {
	path := "/activations"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []journal.Entry
	err := c.getJSON(ctx, path, &out)
	return out, err
}

// Trigger fires a named host event and returns how many units fired.
func (c *Client) Trigger(ctx context.Context, event string) (int, error) {
	var out api.TriggerResponse
	err := c.postJSON(ctx, "/trigger/"+url.PathEscape(event), nil, &out)
	return out.Fired, err
}

// Stream reads the SSE /events stream until ctx ends or the connection drops,
// handing each event to fn. lastID resumes after a known event.
func (c *Client) Stream(ctx context.Context, lastID int64, fn func(events.Event)) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/events", nil)
	if err != nil {
		return err
	}
	if lastID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
	}

	// The stream outlives any request timeout.
	stream := *c.http
	stream.Timeout = 0
	resp, err := stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readStatusError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	var current events.Event
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if current.Data != nil {
				current.At = time.Now()
				fn(current)
			}
			current = events.Event{}
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				current.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			current.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			current.Data = []byte(line[6:])
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readStatusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func readStatusError(resp *http.Response) error {
	var body api.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &StatusError{Code: resp.StatusCode, Message: msg}
}
