package qlik

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/xkilldash9x/qlik-mcp/internal/config"
	"github.com/xkilldash9x/qlik-mcp/internal/session"
	"go.uber.org/zap"
)

// globalHandle addresses the engine's Global object.
const globalHandle = -1

// Engine error codes that are not transport problems.
const (
	engineErrAccessDenied  = 5
	engineErrAppNotFound   = 1002
	engineErrInvalidParams = -32602
)

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Handle  int         `json:"handle"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	ID     *int64              `json:"id,omitempty"`
	Method string              `json:"method,omitempty"`
	Params jsoniter.RawMessage `json:"params,omitempty"`
	Result jsoniter.RawMessage `json:"result,omitempty"`
	Error  *RPCError           `json:"error,omitempty"`
}

// RPCError is an error object returned by the engine.
type RPCError struct {
	Code      int    `json:"code"`
	Parameter string `json:"parameter"`
	Message   string `json:"message"`
}

func (e *RPCError) Error() string {
	if e.Parameter != "" {
		return fmt.Sprintf("engine error %d: %s (%s)", e.Code, e.Message, e.Parameter)
	}
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

func classifyRPCError(op string, e *RPCError) error {
	switch e.Code {
	case engineErrAccessDenied, http.StatusUnauthorized, http.StatusForbidden:
		return session.AuthenticationError(op, e.Message, e)
	case engineErrAppNotFound, engineErrInvalidParams:
		return session.ValidationError(op, e.Error())
	default:
		return session.ConnectionError(op, "engine call failed", e)
	}
}

// EngineClient opens websocket sessions against the Qlik engine.
type EngineClient struct {
	qlik    config.QlikConfig
	dialer  *websocket.Dialer
	timeout time.Duration
	logger  *zap.Logger
}

func NewEngineClient(qlik config.QlikConfig, netCfg config.NetworkConfig, logger *zap.Logger) *EngineClient {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: netCfg.Timeout,
	}
	if netCfg.IgnoreTLSErrors {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &EngineClient{qlik: qlik, dialer: dialer, timeout: netCfg.Timeout, logger: logger.Named("engine")}
}

// URL returns the websocket endpoint for appID.
func (c *EngineClient) URL(appID string) string {
	server := c.qlik.ServerURL()
	switch {
	case strings.HasPrefix(server, "https://"):
		server = "wss://" + strings.TrimPrefix(server, "https://")
	case strings.HasPrefix(server, "http://"):
		server = "ws://" + strings.TrimPrefix(server, "http://")
	}
	return server + "/app/" + url.PathEscape(appID)
}

// Open dials the engine for appID and opens the document. The caller must
// Close the returned session.
func (c *EngineClient) Open(ctx context.Context, token, appID string) (*EngineSession, error) {
	header := http.Header{}
	header.Set("Cookie", (&http.Cookie{Name: c.qlik.SessionCookie, Value: token}).String())
	header.Set("X-Qlik-User", c.qlik.UserHeader())
	header.Set("X-Qlik-Xrfkey", c.qlik.XrfKey)

	target := c.URL(appID)
	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			if serr := ClassifyStatus("engine_dial", resp.StatusCode, resp.Status); serr != nil {
				return nil, serr
			}
		}
		return nil, session.ConnectionError("engine_dial", "websocket handshake failed", err)
	}

	s := newEngineSession(conn, c.timeout, c.logger.With(zap.String("app_id", appID)))
	if err := s.OpenDoc(ctx, appID); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// EngineSession is one JSON-RPC conversation. Calls may be issued
// concurrently; responses are matched to requests by id.
type EngineSession struct {
	conn    *websocket.Conn
	timeout time.Duration
	logger  *zap.Logger

	nextID  atomic.Int64
	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[int64]chan rpcResponse
	closeErr error

	docHandle int
	authLost  atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
}

func newEngineSession(conn *websocket.Conn, timeout time.Duration, logger *zap.Logger) *EngineSession {
	s := &EngineSession{
		conn:    conn,
		timeout: timeout,
		logger:  logger,
		pending: make(map[int64]chan rpcResponse),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *EngineSession) readLoop() {
	var loopErr error
	defer func() {
		s.mu.Lock()
		if s.closeErr == nil {
			s.closeErr = session.ConnectionError("engine", "connection closed", loopErr)
			if s.authLost.Load() {
				s.closeErr = session.AuthenticationError("engine", "engine requires authentication", loopErr)
			}
		}
		s.pending = nil
		s.mu.Unlock()
		close(s.done)
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			loopErr = err
			return
		}
		var msg rpcResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("Discarding malformed engine frame.", zap.Error(err))
			continue
		}
		if msg.ID == nil {
			s.handleNotification(msg)
			continue
		}

		s.mu.Lock()
		ch, ok := s.pending[*msg.ID]
		delete(s.pending, *msg.ID)
		s.mu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

func (s *EngineSession) handleNotification(msg rpcResponse) {
	switch msg.Method {
	case "OnAuthenticationInformation":
		var info struct {
			MustAuthenticate bool `json:"mustAuthenticate"`
		}
		if err := json.Unmarshal(msg.Params, &info); err == nil && info.MustAuthenticate {
			s.authLost.Store(true)
			s.logger.Warn("Engine rejected the session credential.")
		}
	default:
		s.logger.Debug("Engine notification.", zap.String("method", msg.Method))
	}
}

// Call sends one request and decodes the result into out when out is not nil.
func (s *EngineSession) Call(ctx context.Context, handle int, method string, params interface{}, out interface{}) error {
	id := s.nextID.Add(1)
	ch := make(chan rpcResponse, 1)

	s.mu.Lock()
	if s.pending == nil {
		err := s.closeErr
		s.mu.Unlock()
		return err
	}
	s.pending[id] = ch
	s.mu.Unlock()

	if params == nil {
		params = []interface{}{}
	}
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Handle: handle, Params: params})
	if err != nil {
		s.forget(id)
		return fmt.Errorf("encoding %s request: %w", method, err)
	}

	s.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	err = s.conn.WriteMessage(websocket.TextMessage, payload)
	s.writeMu.Unlock()
	if err != nil {
		s.forget(id)
		return session.ConnectionError(method, "writing request", err)
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return classifyRPCError(method, resp.Error)
		}
		if out != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return session.ConnectionError(method, "decoding result", err)
			}
		}
		return nil
	case <-ctx.Done():
		s.forget(id)
		return session.ConnectionError(method, "cancelled", ctx.Err())
	case <-timer.C:
		s.forget(id)
		return session.ConnectionError(method, fmt.Sprintf("no response within %s", s.timeout), context.DeadlineExceeded)
	case <-s.done:
		s.mu.Lock()
		err := s.closeErr
		s.mu.Unlock()
		return err
	}
}

func (s *EngineSession) forget(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// OpenDoc opens appID and records the document handle.
func (s *EngineSession) OpenDoc(ctx context.Context, appID string) error {
	var result struct {
		Return struct {
			Type   string `json:"qType"`
			Handle int    `json:"qHandle"`
		} `json:"qReturn"`
	}
	if err := s.Call(ctx, globalHandle, "OpenDoc", []interface{}{appID}, &result); err != nil {
		return err
	}
	if result.Return.Type != "Doc" {
		return session.ConnectionError("OpenDoc", fmt.Sprintf("unexpected object type %q", result.Return.Type), nil)
	}
	s.docHandle = result.Return.Handle
	return nil
}

func (s *EngineSession) GetScript(ctx context.Context) (string, error) {
	var result struct {
		Script string `json:"qScript"`
	}
	err := s.Call(ctx, s.docHandle, "GetScript", map[string]interface{}{}, &result)
	return result.Script, err
}

func (s *EngineSession) SetScript(ctx context.Context, script string) error {
	return s.Call(ctx, s.docHandle, "SetScript", map[string]interface{}{"qScript": script}, nil)
}

func (s *EngineSession) DoSave(ctx context.Context) error {
	return s.Call(ctx, s.docHandle, "DoSave", map[string]interface{}{}, nil)
}

// Close ends the conversation and waits for the reader to exit.
// Outstanding calls fail with a connection error.
func (s *EngineSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.closeErr == nil {
			s.closeErr = session.ConnectionError("engine", "session closed", nil)
		}
		s.mu.Unlock()

		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
		<-s.done
	})
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// ReadScript opens appID, reads its load script and closes the session.
func (c *EngineClient) ReadScript(ctx context.Context, token, appID string) (string, error) {
	s, err := c.Open(ctx, token, appID)
	if err != nil {
		return "", err
	}
	defer s.Close()
	return s.GetScript(ctx)
}

// WriteScript replaces the load script of appID, saving the app when save
// is set.
func (c *EngineClient) WriteScript(ctx context.Context, token, appID, script string, save bool) error {
	s, err := c.Open(ctx, token, appID)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.SetScript(ctx, script); err != nil {
		return err
	}
	if save {
		return s.DoSave(ctx)
	}
	return nil
}
