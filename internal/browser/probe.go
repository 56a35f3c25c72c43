// internal/browser/probe.go
package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/xkilldash9x/qlik-mcp/internal/config"
	"github.com/xkilldash9x/qlik-mcp/internal/session"
	"go.uber.org/zap"
)

// aboutPath is the cheapest read-only QRS endpoint.
const aboutPath = "/qrs/about"

// HealthChecker probes a tab in two steps: document.readyState and the
// session cookie are checked locally, then the tab fetches QRS /about with
// its own cookies. A cookie the server has already expired fails the
// second step. Nothing is navigated or submitted.
type HealthChecker struct {
	qlik   config.QlikConfig
	logger *zap.Logger
}

var _ session.HealthChecker = (*HealthChecker)(nil)

func NewHealthChecker(qlik config.QlikConfig, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{qlik: qlik, logger: logger.Named("health_checker")}
}

// Probe never returns an error; every failure is reported as false.
func (h *HealthChecker) Probe(ctx context.Context, res session.Resource) (healthy bool) {
	defer func() {
		if p := recover(); p != nil {
			h.logger.Warn("Probe panicked.", zap.Any("panic", p))
			healthy = false
		}
	}()

	r, ok := res.(*Resource)
	if !ok || r == nil || !r.IsOpen() {
		return false
	}

	var readyState string
	var cookies []*network.Cookie
	err := r.Run(ctx,
		chromedp.Evaluate(`document.readyState`, &readyState),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().Do(ctx)
			return err
		}),
	)
	if err != nil {
		h.logger.Debug("Probe failed.", zap.String("resource_id", r.ID()), zap.Error(err))
		return false
	}
	if !LocallyHealthy(readyState, cookies, h.qlik.SessionCookie) {
		return false
	}

	var status int
	err = r.Run(ctx, chromedp.Evaluate(
		AboutFetchJS(h.qlik.ServerURL()+aboutPath, h.qlik.XrfKey),
		&status,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams { return p.WithAwaitPromise(true) },
	))
	if err != nil {
		h.logger.Debug("Remote health check failed.", zap.String("resource_id", r.ID()), zap.Error(err))
		return false
	}
	if !RemoteHealthy(status) {
		h.logger.Info("Server rejected the session.", zap.String("resource_id", r.ID()), zap.Int("status", status))
		return false
	}
	return true
}

// LocallyHealthy is the verdict on what the tab itself holds.
func LocallyHealthy(readyState string, cookies []*network.Cookie, cookieName string) bool {
	if readyState != "complete" && readyState != "interactive" {
		return false
	}
	_, ok := ExtractCredential(cookies, cookieName)
	return ok
}

// RemoteHealthy reports whether the status of the QRS fetch proves a live
// session. A redirect to login surfaces as 0 because the fetch does not
// follow redirects; a network failure surfaces as -1.
func RemoteHealthy(status int) bool {
	return status >= 200 && status < 300
}

// AboutFetchJS renders a fetch of url that resolves to the HTTP status.
func AboutFetchJS(url, xrfKey string) string {
	return fmt.Sprintf(`fetch(%q + "?xrfkey=" + %q, {
	method: "GET",
	credentials: "include",
	redirect: "manual",
	cache: "no-store",
	headers: {"X-Qlik-Xrfkey": %q, "Accept": "application/json"}
}).then(r => r.status).catch(() => -1)`, url, xrfKey, xrfKey)
}
