package qlik

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/xkilldash9x/qlik-mcp/internal/config"
	"github.com/xkilldash9x/qlik-mcp/internal/session"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxErrorBody = 200

// Client talks to the Qlik Repository Service. Every request carries the
// xrfkey pair, the user header and the session cookie passed by the caller.
type Client struct {
	rest       *resty.Client
	limiter    *rate.Limiter
	cookieName string
	logger     *zap.Logger
}

func NewClient(qlik config.QlikConfig, netCfg config.NetworkConfig, logger *zap.Logger) *Client {
	rest := resty.New().
		SetBaseURL(qlik.ServerURL()).
		SetTimeout(netCfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("X-Qlik-Xrfkey", qlik.XrfKey).
		SetHeader("X-Qlik-User", qlik.UserHeader()).
		SetQueryParam("xrfkey", qlik.XrfKey).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		// A redirect means the session was bounced to the login page.
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}))
	if netCfg.IgnoreTLSErrors {
		rest.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}

	limit := rate.Limit(netCfg.RateLimit)
	if netCfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := netCfg.RateBurst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		rest:       rest,
		limiter:    rate.NewLimiter(limit, burst),
		cookieName: qlik.SessionCookie,
		logger:     logger.Named("qrs"),
	}
}

func (c *Client) About(ctx context.Context, token string) (About, error) {
	var about About
	err := c.get(ctx, "about", token, "/qrs/about", nil, &about)
	return about, err
}

func (c *Client) ListApps(ctx context.Context, token string) ([]RawApp, error) {
	var apps []RawApp
	err := c.get(ctx, "list_apps", token, "/qrs/app/full", nil, &apps)
	return apps, err
}

func (c *Client) GetApp(ctx context.Context, token, appID string) (RawApp, error) {
	var app RawApp
	err := c.get(ctx, "get_app", token, "/qrs/app/"+appID, nil, &app)
	return app, err
}

func (c *Client) ListTasks(ctx context.Context, token string) ([]RawTask, error) {
	var tasks []RawTask
	err := c.get(ctx, "list_tasks", token, "/qrs/task/full", nil, &tasks)
	return tasks, err
}

func (c *Client) GetTaskLogs(ctx context.Context, token, taskID string) ([]RawExecutionResult, error) {
	var results []RawExecutionResult
	query := map[string]string{"filter": fmt.Sprintf("taskId eq %s", taskID)}
	err := c.get(ctx, "get_task_logs", token, "/qrs/executionresult/full", query, &results)
	return results, err
}

func (c *Client) get(ctx context.Context, op, token, path string, query map[string]string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return session.ConnectionError(op, "rate limiter", err)
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetCookie(&http.Cookie{Name: c.cookieName, Value: token}).
		SetQueryParams(query).
		Get(path)
	if err != nil {
		return session.ConnectionError(op, "request failed", err)
	}

	c.logger.Debug("QRS call finished.",
		zap.String("operation", op),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("elapsed", resp.Time()))

	if err := ClassifyStatus(op, resp.StatusCode(), resp.String()); err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return session.ConnectionError(op, "decoding response", err)
	}
	return nil
}

// ClassifyStatus maps a QRS status code into the error taxonomy. It returns
// nil for 2xx.
func ClassifyStatus(op string, status int, body string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 300 && status < 400:
		return session.AuthenticationError(op, fmt.Sprintf("redirected with status %d, session not accepted", status), nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return session.AuthenticationError(op, fmt.Sprintf("status %d", status), nil)
	case status == http.StatusBadRequest || status == http.StatusNotFound || status == http.StatusUnprocessableEntity:
		return session.ValidationError(op, fmt.Sprintf("status %d: %s", status, truncate(body)))
	default:
		return session.ConnectionError(op, fmt.Sprintf("status %d: %s", status, truncate(body)), nil)
	}
}

// truncate shortens s to at most maxErrorBody bytes without splitting a rune.
func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrorBody {
		return s
	}
	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
