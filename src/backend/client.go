package backend

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/video2commons/relay/src/types"
)

const userAgent = "video2commons-relay"

// Client fetches task status from the web backend. Every request carries a
// bounded timeout; an unbounded pending fetch would pin a goroutine per feed
// event.
type Client struct {
	http    *fasthttp.Client
	baseURL string
	cookie  string
	timeout time.Duration
	logger  zerolog.Logger
}

// New creates a backend API client. baseURL is scheme+host without a
// trailing slash; cookie is the session cookie name the backend expects.
func New(baseURL, cookie string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		http:    &fasthttp.Client{},
		baseURL: baseURL,
		cookie:  cookie,
		timeout: timeout,
		logger:  logger.With().Str("component", "backend").Logger(),
	}
}

// Status fetches the full task-status snapshot for the user owning
// sessionKey. The session is forwarded as a cookie so the backend performs
// the authorization; the response's room list is authoritative.
func (c *Client) Status(sessionKey string) (*types.StatusSnapshot, error) {
	var snapshot types.StatusSnapshot
	if err := c.getJSON(c.baseURL+"/api/status", sessionKey, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// StatusSingle fetches the current state of one task. No session is
// attached: the endpoint serves single-task refreshes for the dispatcher.
func (c *Client) StatusSingle(taskID string) (map[string]any, error) {
	u := c.baseURL + "/api/status-single?task=" + url.QueryEscape(taskID)
	var single types.SingleStatus
	if err := c.getJSON(u, "", &single); err != nil {
		return nil, err
	}
	return single.Value, nil
}

func (c *Client) getJSON(u, sessionKey string, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(u)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.SetUserAgent(userAgent)
	if sessionKey != "" {
		req.Header.SetCookie(c.cookie, sessionKey)
	}

	if err := c.http.DoTimeout(req, resp, c.timeout); err != nil {
		return fmt.Errorf("backend request %s: %w", u, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return fmt.Errorf("backend request %s: status %d", u, resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("backend response %s: %w", u, err)
	}
	return nil
}
