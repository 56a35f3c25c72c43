// internal/browser/auth.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/xkilldash9x/qlik-mcp/internal/config"
	"github.com/xkilldash9x/qlik-mcp/internal/session"
	"go.uber.org/zap"
)

// Heuristic selectors for the Qlik login page, most specific first.
var (
	usernameSelectors = []string{
		"input[name='username']",
		"input[id='username']",
		"input[type='email']",
		"input[type='text']",
	}
	passwordSelectors = []string{
		"input[name='password']",
		"input[id='password']",
		"input[type='password']",
	}
	submitSelectors = []string{
		"button[type='submit']",
		"input[type='submit']",
		"form button",
	}
	loginErrorSelectors = []string{
		".error",
		".alert-danger",
		".login-error",
		"[class*='error']",
		"[class*='invalid']",
	}
)

// maxAuthChallenges bounds how often a basic-auth challenge is answered
// before the credentials are treated as rejected.
const maxAuthChallenges = 2

const locationPollInterval = 250 * time.Millisecond

// Authenticator logs a Resource into the Qlik hub and extracts the session
// cookie. It implements session.Authenticator and session.Refresher.
type Authenticator struct {
	qlik    config.QlikConfig
	browser config.BrowserConfig
	logger  *zap.Logger
}

var (
	_ session.Authenticator = (*Authenticator)(nil)
	_ session.Refresher     = (*Authenticator)(nil)
)

func NewAuthenticator(qlik config.QlikConfig, browser config.BrowserConfig, logger *zap.Logger) *Authenticator {
	return &Authenticator{qlik: qlik, browser: browser, logger: logger.Named("authenticator")}
}

// Authenticate answers basic-auth challenges when enabled, opens the hub and
// falls back to the login form when the hub redirects to it.
func (a *Authenticator) Authenticate(ctx context.Context, res session.Resource, creds session.Credentials) (string, error) {
	r, err := asResource(res)
	if err != nil {
		return "", err
	}

	if a.browser.HTTPAuth {
		if err := a.enableBasicAuth(ctx, r, creds); err != nil {
			return "", session.ConnectionError("authenticate", "enabling auth interception", err)
		}
	}

	hub := a.hubURL()
	a.logger.Info("Opening Qlik hub.", zap.String("url", hub), zap.String("username", creds.Username))

	location, err := a.navigate(ctx, r, hub)
	if err != nil {
		return "", err
	}
	if r.authRejected.Load() {
		return "", session.AuthenticationError("authenticate", "basic auth credentials rejected", nil)
	}

	if !OnHub(location, a.qlik.HubPath) {
		a.logger.Debug("Hub redirected to login, using the form.", zap.String("location", location))
		if err := a.formLogin(ctx, r, creds); err != nil {
			return "", err
		}
	}

	return a.extract(ctx, r)
}

// Refresh re-opens the hub on a live resource and re-reads the cookie. It
// fails when the hub no longer accepts the session.
func (a *Authenticator) Refresh(ctx context.Context, res session.Resource) (string, error) {
	r, err := asResource(res)
	if err != nil {
		return "", err
	}
	location, err := a.navigate(ctx, r, a.hubURL())
	if err != nil {
		return "", err
	}
	if !OnHub(location, a.qlik.HubPath) {
		return "", session.AuthenticationError("refresh", "session expired", nil)
	}
	return a.extract(ctx, r)
}

func (a *Authenticator) hubURL() string {
	return a.qlik.ServerURL() + a.qlik.HubPath
}

func (a *Authenticator) navigate(ctx context.Context, r *Resource, target string) (string, error) {
	var location string
	if err := r.Run(ctx, chromedp.Navigate(target), chromedp.Location(&location)); err != nil {
		return "", ClassifyNavigationError(err)
	}
	return location, nil
}

// enableBasicAuth answers HTTP auth challenges with creds. After
// maxAuthChallenges answers the challenge is cancelled and the resource is
// flagged as rejected.
func (a *Authenticator) enableBasicAuth(ctx context.Context, r *Resource, creds session.Credentials) error {
	chromedp.ListenTarget(r.tabCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *fetch.EventAuthRequired:
			response := &fetch.AuthChallengeResponse{
				Response: fetch.AuthChallengeResponseResponseProvideCredentials,
				Username: creds.Username,
				Password: creds.Password,
			}
			if r.authAttempts.Add(1) > maxAuthChallenges {
				r.authRejected.Store(true)
				response = &fetch.AuthChallengeResponse{Response: fetch.AuthChallengeResponseResponseCancelAuth}
			}
			go r.dispatch(fetch.ContinueWithAuth(e.RequestID, response))
		case *fetch.EventRequestPaused:
			go r.dispatch(fetch.ContinueRequest(e.RequestID))
		}
	})
	return r.Run(ctx, fetch.Enable().WithHandleAuthRequests(true))
}

// dispatch sends a CDP command from inside an event listener, which must
// not block the listener itself.
func (r *Resource) dispatch(action chromedp.Action) {
	c := chromedp.FromContext(r.tabCtx)
	if c == nil || c.Target == nil {
		return
	}
	if err := action.Do(cdp.WithExecutor(r.tabCtx, c.Target)); err != nil {
		r.logger.Debug("CDP dispatch failed.", zap.Error(err))
	}
}

func (a *Authenticator) formLogin(ctx context.Context, r *Resource, creds session.Credentials) error {
	userSel := strings.Join(usernameSelectors, ", ")
	passSel := strings.Join(passwordSelectors, ", ")
	submitSel := strings.Join(submitSelectors, ", ")

	formCtx, cancel := context.WithTimeout(ctx, a.browser.FormWait)
	err := r.Run(formCtx, chromedp.WaitVisible(userSel, chromedp.ByQuery))
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return session.ConnectionError("login", "cancelled while waiting for the login form", ctx.Err())
		}
		return session.AuthenticationError("login", fmt.Sprintf("login form not found within %s", a.browser.FormWait), err)
	}

	err = r.Run(ctx,
		chromedp.SendKeys(userSel, creds.Username, chromedp.ByQuery),
		chromedp.SendKeys(passSel, creds.Password, chromedp.ByQuery),
		chromedp.Click(submitSel, chromedp.ByQuery),
	)
	if err != nil {
		return session.AuthenticationError("login", "could not submit the login form", err)
	}

	if a.waitForHub(ctx, r) {
		a.logger.Info("Form login succeeded.")
		return nil
	}
	if ctx.Err() != nil {
		return session.ConnectionError("login", "cancelled while waiting for the hub", ctx.Err())
	}

	msg := a.loginErrorText(ctx, r)
	if msg == "" {
		msg = "Unknown authentication error"
	}
	return session.AuthenticationError("login", "login failed: "+msg, nil)
}

// waitForHub polls the tab location until it reaches the hub or
// PostLoginWait elapses.
func (a *Authenticator) waitForHub(ctx context.Context, r *Resource) bool {
	waitCtx, cancel := context.WithTimeout(ctx, a.browser.PostLoginWait)
	defer cancel()

	ticker := time.NewTicker(locationPollInterval)
	defer ticker.Stop()
	for {
		var location string
		if err := r.Run(waitCtx, chromedp.Location(&location)); err == nil && OnHub(location, a.qlik.HubPath) {
			return true
		}
		select {
		case <-waitCtx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (a *Authenticator) loginErrorText(ctx context.Context, r *Resource) string {
	textCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var text string
	expr := fmt.Sprintf(`(() => {
		for (const sel of %s) {
			const el = document.querySelector(sel);
			if (el && el.textContent.trim()) return el.textContent.trim();
		}
		return "";
	})()`, jsStringArray(loginErrorSelectors))
	if err := r.Run(textCtx, chromedp.Evaluate(expr, &text)); err != nil {
		return ""
	}
	return text
}

func (a *Authenticator) extract(ctx context.Context, r *Resource) (string, error) {
	var cookies []*network.Cookie
	err := r.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return "", session.ConnectionError("authenticate", "reading cookies", err)
	}

	token, ok := ExtractCredential(cookies, a.qlik.SessionCookie)
	if !ok {
		return "", session.AuthenticationError("authenticate", fmt.Sprintf("no %s cookie after login", a.qlik.SessionCookie), nil)
	}
	return token, nil
}

// ExtractCredential returns the value of the named cookie.
func ExtractCredential(cookies []*network.Cookie, name string) (string, bool) {
	for _, c := range cookies {
		if c != nil && c.Name == name && c.Value != "" {
			return c.Value, true
		}
	}
	return "", false
}

// OnHub reports whether location is inside the hub rather than on a login page.
func OnHub(location, hubPath string) bool {
	u, err := url.Parse(location)
	if err != nil || u.Path == "" {
		return false
	}
	full := strings.ToLower(u.Path + "?" + u.RawQuery + "#" + u.Fragment)
	return strings.Contains(u.Path, hubPath) && !strings.Contains(full, "login")
}

// ClassifyNavigationError maps a navigation failure into the session error
// taxonomy. Chrome's credential errors are authentication failures; anything
// else is a connection failure.
func ClassifyNavigationError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "ERR_INVALID_AUTH_CREDENTIALS"),
		strings.Contains(msg, "ERR_ACCESS_DENIED"),
		strings.Contains(msg, "ERR_UNEXPECTED_PROXY_AUTH"):
		return session.AuthenticationError("navigate", "remote rejected credentials", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return session.ConnectionError("navigate", "timed out", err)
	default:
		return session.ConnectionError("navigate", "remote unreachable", err)
	}
}

func asResource(res session.Resource) (*Resource, error) {
	r, ok := res.(*Resource)
	if !ok || r == nil {
		return nil, session.ConnectionError("authenticate", fmt.Sprintf("unsupported resource %T", res), nil)
	}
	return r, nil
}

func jsStringArray(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
