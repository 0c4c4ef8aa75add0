// Package ticket files post-call helpdesk tickets: a REST client with
// session auth, a keyword classifier, and the end-of-call finalizer.
package ticket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/voice-support-relay/internal/logging"
)

// Ticket is the helpdesk case to create.
type Ticket struct {
	Subject     string
	Contents    string
	TypeID      int
	PriorityID  int
	RequesterID int
}

// User is a helpdesk requester record.
type User struct {
	ID       int
	Email    string
	FullName string
}

const (
	clientAttempts = 3
	userCacheTTL   = time.Minute
)

// Client talks to a Kayako-style helpdesk REST API. Authentication is
// basic-auth bootstrap into a session id plus CSRF token; requests retry
// transient failures with exponential backoff.
type Client struct {
	baseURL  string
	email    string
	password string
	http     *http.Client

	mu        sync.Mutex
	sessionID string
	csrfToken string

	userMu    sync.Mutex
	userCache map[string]cachedUser
}

type cachedUser struct {
	user    *User
	expires time.Time
}

// NewClient builds a helpdesk client for baseURL with basic-auth
// credentials. baseURL is the API root, e.g. https://x.kayako.com/api/v1.
func NewClient(baseURL, email, password string) *Client {
	return &Client{
		baseURL:   baseURL,
		email:     email,
		password:  password,
		http:      &http.Client{Timeout: 30 * time.Second},
		userCache: make(map[string]cachedUser),
	}
}

// authenticate performs the basic-auth bootstrap and stores the session id
// and CSRF token for subsequent requests.
func (c *Client) authenticate(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users", nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.email, c.password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("helpdesk auth: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("helpdesk auth: status %d", resp.StatusCode)
	}

	var payload struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("helpdesk auth: decode response: %w", err)
	}
	if payload.SessionID == "" {
		return fmt.Errorf("helpdesk auth: no session id in response")
	}

	c.mu.Lock()
	c.sessionID = payload.SessionID
	c.csrfToken = resp.Header.Get("X-CSRF-Token")
	c.mu.Unlock()
	logging.Infow("helpdesk session established")
	return nil
}

func (c *Client) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	have := c.sessionID != ""
	c.mu.Unlock()
	if have {
		return nil
	}
	return c.authenticate(ctx)
}

// doJSON issues one authenticated request with retry/backoff. 5xx and
// transport errors retry; 4xx fail immediately. Caller gets the decoded
// response body.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, reqBody interface{}) ([]byte, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	var payload []byte
	if reqBody != nil {
		var err error
		payload, err = json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < clientAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(200*(1<<attempt)) * time.Millisecond):
			}
		}

		var rdr io.Reader
		if payload != nil {
			rdr = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, rdr)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		c.mu.Lock()
		req.Header.Set("X-Session-ID", c.sessionID)
		if c.csrfToken != "" {
			req.Header.Set("X-CSRF-Token", c.csrfToken)
		}
		c.mu.Unlock()

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			logging.Warnw("helpdesk request failed", "method", method, "path", path, "attempt", attempt, "err", err)
			continue
		}
		body, rerr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if rerr != nil {
			lastErr = rerr
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("helpdesk %s %s: status %d", method, path, resp.StatusCode)
			logging.Warnw("helpdesk server error", "method", method, "path", path, "status", resp.StatusCode, "attempt", attempt)
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("helpdesk %s %s: status %d: %s", method, path, resp.StatusCode, truncateBody(body))
		}
		return body, nil
	}
	return nil, fmt.Errorf("helpdesk %s %s: %w", method, path, lastErr)
}

// CreateTicket creates a helpdesk case and returns its id.
func (c *Client) CreateTicket(ctx context.Context, t Ticket) (string, error) {
	typeID := t.TypeID
	if typeID == 0 {
		typeID = TypeQuestion
	}
	priorityID := t.PriorityID
	if priorityID == 0 {
		priorityID = PriorityHigh
	}
	body := map[string]interface{}{
		"subject":      t.Subject,
		"contents":     t.Contents,
		"channel":      "MAIL",
		"channel_id":   1,
		"type_id":      typeID,
		"priority_id":  priorityID,
		"requester_id": t.RequesterID,
		"channel_options": map[string]interface{}{
			"html": true,
		},
	}

	respBody, err := c.doJSON(ctx, http.MethodPost, "/cases", nil, body)
	if err != nil {
		return "", fmt.Errorf("create ticket: %w", err)
	}
	var resp struct {
		Data struct {
			ID json.Number `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("create ticket: decode response: %w", err)
	}
	if resp.Data.ID.String() == "" {
		return "", fmt.Errorf("create ticket: response missing id")
	}
	return resp.Data.ID.String(), nil
}

// GetUserByEmail finds the requester for an email, nil when unknown.
// Results are cached briefly to absorb repeated lookups within a call.
func (c *Client) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	c.userMu.Lock()
	if cu, ok := c.userCache[email]; ok && time.Now().Before(cu.expires) {
		c.userMu.Unlock()
		return cu.user, nil
	}
	c.userMu.Unlock()

	q := url.Values{"email": {email}}
	respBody, err := c.doJSON(ctx, http.MethodGet, "/users", q, nil)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	var resp struct {
		Data []struct {
			ID       int    `json:"id"`
			FullName string `json:"full_name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("lookup user: decode response: %w", err)
	}

	var user *User
	if len(resp.Data) > 0 {
		user = &User{ID: resp.Data[0].ID, Email: email, FullName: resp.Data[0].FullName}
	}
	c.userMu.Lock()
	c.userCache[email] = cachedUser{user: user, expires: time.Now().Add(userCacheTTL)}
	c.userMu.Unlock()
	return user, nil
}

// CreateUser registers a new requester and returns its id.
func (c *Client) CreateUser(ctx context.Context, u User) (int, error) {
	body := map[string]interface{}{
		"full_name":  u.FullName,
		"email":      u.Email,
		"role":       4, // customer
		"locale":     2, // en-US
		"is_enabled": true,
	}
	respBody, err := c.doJSON(ctx, http.MethodPost, "/users", nil, body)
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	var resp struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return 0, fmt.Errorf("create user: decode response: %w", err)
	}
	id, err := strconv.Atoi(resp.ID.String())
	if err != nil || id == 0 {
		return 0, fmt.Errorf("create user: response missing id")
	}
	c.userMu.Lock()
	c.userCache[u.Email] = cachedUser{
		user:    &User{ID: id, Email: u.Email, FullName: u.FullName},
		expires: time.Now().Add(userCacheTTL),
	}
	c.userMu.Unlock()
	return id, nil
}

func truncateBody(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
