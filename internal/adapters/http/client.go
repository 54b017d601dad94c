package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"runtime"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/singleflight"

	"github.com/bft-labs/replayship/internal/domain"
	"github.com/bft-labs/replayship/internal/ports"
	"github.com/bft-labs/replayship/pkg/log"
)

// Backend endpoints, relative to Config.BaseURL.
const (
	StartEndpoint  = "/v1/mobile/start"
	IngestEndpoint = "/v1/mobile/i"
	LateEndpoint   = "/v1/mobile/late"
	ImagesEndpoint = "/v1/mobile/images"
)

// Defaults for session negotiation.
const (
	DefaultMaxAttempts = 5
	DefaultRetryDelay  = 5 * time.Second
)

// writeToFileToken is the placeholder token used in local capture mode.
const writeToFileToken = "writeToFile"

// Config configures the delivery client.
type Config struct {
	// BaseURL is the ingestion service root, e.g. https://api.example.com/ingest
	BaseURL string

	// MaxAttempts bounds session negotiation POSTs.
	MaxAttempts int

	// RetryDelay is the fixed pause between negotiation attempts.
	RetryDelay time.Duration

	// WriteToFile appends every batch to Local instead of posting it.
	WriteToFile bool

	// Local receives batches in write-to-file mode.
	Local ports.SpillStore
}

// Client implements ports.Delivery, ports.MediaSender and ports.SessionClient over HTTP.
type Client struct {
	cfg    Config
	client ports.HTTPClient
	logger ports.Logger
	state  ports.StateRepository

	onUnauthorized func()

	group   singleflight.Group
	mu      sync.RWMutex
	session *domain.Session
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c ports.HTTPClient) Option {
	return func(cl *Client) {
		cl.client = c
	}
}

// WithLogger sets the logger.
func WithLogger(l ports.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// WithUnauthorizedHandler registers fn to run after a 401 from the ingest endpoint.
// fn is called synchronously from Send and must not block on the caller.
func WithUnauthorizedHandler(fn func()) Option {
	return func(cl *Client) {
		cl.onUnauthorized = fn
	}
}

// NewClient creates a delivery client. state persists the last token for late delivery.
func NewClient(cfg Config, state ports.StateRepository, opts ...Option) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	c := &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: log.NewNoopLogger(),
		state:  state,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NegotiateSession starts a session and caches it until Clear.
func (c *Client) NegotiateSession(ctx context.Context, req domain.SessionRequest) (*domain.Session, error) {
	if sess := c.Session(); sess != nil {
		return sess, nil
	}

	// The shared negotiation outlives any single caller; each caller waits
	// on its own ctx.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan("session", func() (interface{}, error) {
		if sess := c.Session(); sess != nil {
			return sess, nil
		}
		if c.cfg.WriteToFile {
			sess := &domain.Session{
				Token:      writeToFileToken,
				ProjectKey: req.ProjectKey,
				UserUUID:   req.UserUUID,
				StartedAt:  time.UnixMilli(req.Timestamp),
			}
			c.setSession(sess)
			return sess, nil
		}
		return c.negotiate(shared, req)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", domain.ErrNoSession, ctx.Err())
	}
	if res.Err != nil {
		return nil, res.Err
	}
	sess := *res.Val.(*domain.Session)
	return &sess, nil
}

func (c *Client) negotiate(ctx context.Context, req domain.SessionRequest) (*domain.Session, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		sess, err := c.startSession(ctx, req)
		if err == nil {
			c.setSession(sess)
			c.persist(ctx, sess)
			c.logger.Info("session started",
				ports.String("session_id", sess.ID),
				ports.Int("attempt", attempt),
			)
			return sess, nil
		}
		lastErr = err
		c.logger.Warn("session start failed",
			ports.Int("attempt", attempt),
			ports.Int("max_attempts", c.cfg.MaxAttempts),
			ports.Err(err),
		)
		if attempt == c.cfg.MaxAttempts {
			break
		}
		time.Sleep(c.cfg.RetryDelay)
	}
	return nil, fmt.Errorf("%w: %d attempts failed: %w", domain.ErrNoSession, c.cfg.MaxAttempts, lastErr)
}

func (c *Client) startSession(ctx context.Context, req domain.SessionRequest) (*domain.Session, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal session request: %w", err)
	}

	resp, err := c.post(ctx, StartEndpoint, bytes.NewReader(body), map[string]string{
		"Content-Type": "application/json; charset=utf-8",
	})
	if err != nil {
		return nil, err
	}
	defer drainClose(resp.Body)

	if resp.StatusCode/100 != 2 {
		return nil, statusError(resp)
	}

	var sr domain.SessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode session response: %w", err)
	}
	if sr.Token == "" || sr.SessionID == "" {
		return nil, errors.New("session response missing token or session id")
	}
	return domain.NewSession(sr, req.ProjectKey, time.UnixMilli(req.Timestamp)), nil
}

func (c *Client) persist(ctx context.Context, sess *domain.Session) {
	if c.state == nil {
		return
	}
	st, err := c.state.Load(ctx)
	if err != nil {
		c.logger.Warn("failed to load state", ports.Err(err))
	}
	st.UpdateAfterSession(sess)
	if err := c.state.Save(ctx, st); err != nil {
		c.logger.Warn("failed to save state", ports.Err(err))
	}
}

// Session returns a copy of the live session, or nil.
func (c *Client) Session() *domain.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	sess := *c.session
	return &sess
}

func (c *Client) setSession(sess *domain.Session) {
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
}

// Clear drops the cached session. The next NegotiateSession starts a new one.
func (c *Client) Clear() {
	c.setSession(nil)
}

// Send compresses data and posts it to the ingest endpoint with the live token.
func (c *Client) Send(ctx context.Context, data []byte) error {
	if c.cfg.WriteToFile {
		if c.cfg.Local == nil {
			return errors.New("write-to-file mode without a local store")
		}
		return c.cfg.Local.Append(data)
	}

	sess := c.Session()
	if sess == nil {
		return domain.ErrNoSession
	}

	compressed, err := compress(data)
	if err != nil {
		return fmt.Errorf("compress batch: %w", err)
	}
	c.logger.Debug("compressed batch",
		ports.Int("raw_bytes", len(data)),
		ports.Int("compressed_bytes", len(compressed)),
	)

	resp, err := c.post(ctx, IngestEndpoint, bytes.NewReader(compressed), map[string]string{
		"Authorization":    "Bearer " + sess.Token,
		"Content-Encoding": "gzip",
		"Content-Type":     "application/octet-stream",
	})
	if err != nil {
		return err
	}
	defer drainClose(resp.Body)

	switch {
	case resp.StatusCode/100 == 2:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		c.logger.Warn("ingest rejected token", ports.String("session_id", sess.ID))
		c.Clear()
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return domain.ErrUnauthorized
	default:
		return statusError(resp)
	}
}

// SendLate posts raw bytes with the last persisted token.
func (c *Client) SendLate(ctx context.Context, data []byte) error {
	if c.state == nil {
		return domain.ErrNoLastToken
	}
	st, err := c.state.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if st.LastToken == "" || st.LastToken == writeToFileToken {
		return domain.ErrNoLastToken
	}

	resp, err := c.post(ctx, LateEndpoint, bytes.NewReader(data), map[string]string{
		"Authorization": "Bearer " + st.LastToken,
		"Content-Type":  "application/octet-stream",
	})
	if err != nil {
		return err
	}
	defer drainClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		// The last token is gone for good; retrying it cannot succeed.
		return fmt.Errorf("%w: late ingest rejected last token", domain.ErrUnauthorized)
	case resp.StatusCode/100 != 2:
		return statusError(resp)
	}
	c.logger.Debug("late delivery accepted", ports.Int("bytes", len(data)))
	return nil
}

// SendMedia uploads a sealed archive as multipart form data.
func (c *Client) SendMedia(ctx context.Context, data []byte, name string) error {
	if c.cfg.WriteToFile {
		return domain.ErrLocalCapture
	}
	sess := c.Session()
	if sess == nil {
		return domain.ErrNoSession
	}
	if sess.ProjectKey == "" {
		return domain.ErrNoProjectKey
	}

	// Build multipart request body
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("projectKey", sess.ProjectKey); err != nil {
		return fmt.Errorf("write projectKey field: %w", err)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="batch"; filename=%q`, name))
	h.Set("Content-Type", "application/gzip")
	part, err := writer.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create batch part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write batch part: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize multipart: %w", err)
	}

	resp, err := c.post(ctx, ImagesEndpoint, &body, map[string]string{
		"Authorization": "Bearer " + sess.Token,
		"Content-Type":  writer.FormDataContentType(),
	})
	if err != nil {
		return err
	}
	defer drainClose(resp.Body)

	if resp.StatusCode/100 != 2 {
		return statusError(resp)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("X-Agent-OSArch", runtime.GOOS+"/"+runtime.GOARCH)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w: %w", domain.ErrTransient, err)
	}
	return resp, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &domain.StatusError{StatusCode: resp.StatusCode, Body: string(b)}
}

func drainClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, rc)
	_ = rc.Close()
}
