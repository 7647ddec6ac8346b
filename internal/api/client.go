// Package api is the request/response client for the console server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/adamavenir/ledgersync/internal/types"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ErrNotFound matches APIErrors for missing groups or events.
var ErrNotFound = errors.New("not found")

// APIError is a failed envelope or a non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("api error: %s (%d): %s", e.Code, e.Status, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("api error: %s (%d)", e.Code, e.Status)
	}
	if e.Message != "" {
		return fmt.Sprintf("api error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error (%d)", e.Status)
}

func (e *APIError) Is(target error) bool {
	if target != ErrNotFound {
		return false
	}
	return e.Status == http.StatusNotFound || strings.HasSuffix(e.Code, "not_found")
}

type envelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Options configures a Client.
type Options struct {
	Token      string
	HTTPClient *http.Client
	// RequestsPerSecond paces request/response calls. Zero means 20.
	RequestsPerSecond float64
}

// Client talks to the console server.
type Client struct {
	baseURL    string
	token      string
	clientID   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient constructs a client for baseURL.
func NewClient(baseURL string, opts Options) (*Client, error) {
	normalized, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	perSecond := opts.RequestsPerSecond
	if perSecond <= 0 {
		perSecond = 20
	}
	return &Client{
		baseURL:    normalized,
		token:      strings.TrimSpace(opts.Token),
		clientID:   uuid.NewString(),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(perSecond), int(perSecond)),
	}, nil
}

// NormalizeBaseURL checks that raw has a scheme and strips trailing slashes.
func NormalizeBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("base url cannot be empty")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" {
		return "", fmt.Errorf("base url must include scheme (http://)")
	}
	return strings.TrimRight(value, "/"), nil
}

// ClientID identifies this client instance to the server.
func (c *Client) ClientID() string {
	return c.clientID
}

// Groups lists all groups.
func (c *Client) Groups(ctx context.Context) ([]types.Group, error) {
	var result struct {
		Groups []types.Group `json:"groups"`
	}
	if err := c.doJSON(ctx, "/groups", nil, &result); err != nil {
		return nil, err
	}
	return result.Groups, nil
}

// Group fetches a group document.
func (c *Client) Group(ctx context.Context, groupID string) (types.Group, error) {
	var result struct {
		Group types.Group `json:"group"`
	}
	if err := c.doJSON(ctx, groupPath(groupID, ""), nil, &result); err != nil {
		return types.Group{}, err
	}
	return result.Group, nil
}

// Actors fetches a group's roster.
func (c *Client) Actors(ctx context.Context, groupID string) ([]types.Actor, error) {
	var result struct {
		Actors []types.Actor `json:"actors"`
	}
	if err := c.doJSON(ctx, groupPath(groupID, "/actors"), nil, &result); err != nil {
		return nil, err
	}
	return result.Actors, nil
}

// Context fetches a group's context document.
func (c *Client) Context(ctx context.Context, groupID string) (types.GroupContext, error) {
	var result types.GroupContext
	if err := c.doJSON(ctx, groupPath(groupID, "/context"), nil, &result); err != nil {
		return types.GroupContext{}, err
	}
	return result, nil
}

// LedgerTail returns the newest lines of the ledger as raw events, oldest
// first. Entries are left undecoded so they go through the classifier.
func (c *Client) LedgerTail(ctx context.Context, groupID string, lines int) ([]json.RawMessage, error) {
	query := url.Values{}
	if lines > 0 {
		query.Set("lines", strconv.Itoa(lines))
	}
	var result struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := c.doJSON(ctx, groupPath(groupID, "/ledger/tail"), query, &result); err != nil {
		return nil, err
	}
	return result.Events, nil
}

// LedgerWindow returns raw events around center.
func (c *Client) LedgerWindow(ctx context.Context, groupID, center string, before, after int) ([]json.RawMessage, bool, error) {
	query := url.Values{}
	query.Set("center", center)
	query.Set("before", strconv.Itoa(before))
	query.Set("after", strconv.Itoa(after))
	var result struct {
		Events []json.RawMessage `json:"events"`
		Found  bool              `json:"found"`
	}
	if err := c.doJSON(ctx, groupPath(groupID, "/ledger/window"), query, &result); err != nil {
		return nil, false, err
	}
	return result.Events, result.Found, nil
}

// OpenStream opens the group's push stream. The caller owns the returned
// body. lastEventID is sent as Last-Event-ID when set.
func (c *Client) OpenStream(ctx context.Context, groupID, lastEventID string) (io.ReadCloser, error) {
	endpoint, err := c.buildURL(groupPath(groupID, "/ledger/stream"), nil)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.authorize(req)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	// The stream outlives any per-request timeout, so it bypasses the
	// client's Timeout and relies on ctx for cancellation.
	streamClient := *c.httpClient
	streamClient.Timeout = 0
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, decodeError(resp.StatusCode, data)
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "text/event-stream" {
		resp.Body.Close()
		return nil, fmt.Errorf("stream: unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	return resp.Body, nil
}

func groupPath(groupID, suffix string) string {
	return "/groups/" + url.PathEscape(groupID) + suffix
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("X-Client-Id", c.clientID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) doJSON(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	endpoint, err := c.buildURL(path, query)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, data)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if !env.OK {
		apiErr := &APIError{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func decodeError(status int, data []byte) error {
	apiErr := &APIError{Status: status}
	var env envelope
	if err := json.Unmarshal(data, &env); err == nil && env.Error != nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

func (c *Client) buildURL(path string, query url.Values) (string, error) {
	endpoint, err := url.Parse(c.baseURL + "/api/v1" + path)
	if err != nil {
		return "", err
	}
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}
	return endpoint.String(), nil
}
