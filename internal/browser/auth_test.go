// internal/browser/auth_test.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/qlik-mcp/internal/config"
	"github.com/xkilldash9x/qlik-mcp/internal/session"
	"go.uber.org/zap/zaptest"
)

func TestExtractCredential(t *testing.T) {
	cookies := []*network.Cookie{
		nil,
		{Name: "_ga", Value: "GA1.2"},
		{Name: "X-Qlik-Session", Value: ""},
		{Name: "X-Qlik-Session", Value: "3f2a-session"},
	}

	token, ok := ExtractCredential(cookies, "X-Qlik-Session")
	assert.True(t, ok)
	assert.Equal(t, "3f2a-session", token)

	_, ok = ExtractCredential(cookies, "X-Qlik-Session-HTTP")
	assert.False(t, ok)

	_, ok = ExtractCredential(nil, "X-Qlik-Session")
	assert.False(t, ok)
}

func TestOnHub(t *testing.T) {
	tests := []struct {
		location string
		want     bool
	}{
		{"https://qlik.example.com/hub", true},
		{"https://qlik.example.com/hub/stream/mine", true},
		{"https://qlik.example.com/internal_windows_authentication/?targetId=abc", false},
		{"https://qlik.example.com/hub/login", false},
		{"https://qlik.example.com/form/?returnto=%2Fhub&Login=1", false},
		{"about:blank", false},
		{"", false},
		{"::not a url", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OnHub(tt.location, "/hub"), tt.location)
	}
}

func TestClassifyNavigationError(t *testing.T) {
	assert.Nil(t, ClassifyNavigationError(nil))

	err := ClassifyNavigationError(errors.New("page load error net::ERR_INVALID_AUTH_CREDENTIALS"))
	assert.ErrorIs(t, err, session.ErrAuthentication)

	err = ClassifyNavigationError(errors.New("page load error net::ERR_NAME_NOT_RESOLVED"))
	assert.ErrorIs(t, err, session.ErrConnection)

	err = ClassifyNavigationError(fmt.Errorf("navigate: %w", context.DeadlineExceeded))
	assert.ErrorIs(t, err, session.ErrConnection)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type foreignResource struct{}

func (foreignResource) ID() string                  { return "foreign" }
func (foreignResource) CreatedAt() time.Time        { return time.Time{} }
func (foreignResource) IsOpen() bool                { return true }
func (foreignResource) Close(context.Context) error { return nil }

func TestAuthenticatorRejectsForeignResource(t *testing.T) {
	cfg := config.NewDefaultConfig()
	a := NewAuthenticator(cfg.Qlik(), cfg.Browser(), zaptest.NewLogger(t))

	_, err := a.Authenticate(context.Background(), foreignResource{}, session.Credentials{Username: "u", Password: "p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrConnection)

	_, err = a.Refresh(context.Background(), foreignResource{})
	assert.Error(t, err)
}

func TestHubURL(t *testing.T) {
	cfg := config.NewDefaultConfig()
	q := cfg.Qlik()
	q.Server = "qlik.example.com"
	a := NewAuthenticator(q, cfg.Browser(), zaptest.NewLogger(t))
	assert.Equal(t, "https://qlik.example.com/hub", a.hubURL())
}

func TestJSStringArray(t *testing.T) {
	assert.Equal(t, `[".error", "[class*='invalid']"]`, jsStringArray([]string{".error", "[class*='invalid']"}))
}
