package session

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"dailytask/pkg/logx"
)

// DefaultTimeout bounds every portal call. The registry imposes no timeout
// of its own; this is the only clock on a hanging request.
const DefaultTimeout = 24 * time.Second

// Verdict is the outcome of the response inspection hook.
type Verdict int

const (
	// Continue means the response carries a valid session; hand it to the
	// caller for domain-level decoding.
	Continue Verdict = iota
	// Reauthenticate means the portal signalled an invalid session. The
	// hook has already re-authenticated in place; Invoke fails the attempt
	// with ErrUnauthorized so the retry wrapper replays the call.
	Reauthenticate
)

// Hooks intercept each call. Before runs right before the request is sent
// and attaches the current credential (it may return ErrUnauthorized itself,
// e.g. on first use after performing the initial login). After inspects the
// complete response body for invalidation markers.
type Hooks struct {
	Before func(req *http.Request) error
	After  func(resp *http.Response, body []byte) Verdict
}

// Session is a long-lived authenticated HTTP channel to one remote portal.
// It is created once at process start and re-authenticates in place for the
// process lifetime; it is never recreated.
type Session struct {
	client  *http.Client
	base    *url.URL
	headers http.Header
	hooks   Hooks
	log     logx.Logger
}

type Option func(*Session)

// WithTimeout overrides the per-call transport timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) { s.client.Timeout = d }
}

// WithCookieJar attaches a cookie jar so server-issued session cookies
// survive across calls.
func WithCookieJar(jar *cookiejar.Jar) Option {
	return func(s *Session) { s.client.Jar = jar }
}

// WithoutRedirects stops the client from following redirects, so the After
// hook can observe a 302-to-login-page invalidation marker directly.
func WithoutRedirects() Option {
	return func(s *Session) {
		s.client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
}

// WithHeader sets a default header attached to every request.
func WithHeader(key, value string) Option {
	return func(s *Session) { s.headers.Set(key, value) }
}

func WithHooks(h Hooks) Option {
	return func(s *Session) { s.hooks = h }
}

func WithLogger(log logx.Logger) Option {
	return func(s *Session) { s.log = log }
}

func New(baseURL string, opts ...Option) (*Session, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, err
	}
	s := &Session{
		client:  &http.Client{Timeout: DefaultTimeout},
		base:    base,
		headers: http.Header{},
		log:     logx.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// BaseURL returns the portal endpoint the session was built for.
func (s *Session) BaseURL() string { return s.base.String() }

// Request describes one portal call. Exactly one of JSON or Form may be set.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	JSON   any
	Form   url.Values
}

// Invoke performs one authenticated attempt: attach credential, execute,
// inspect. Callers wrap it in Do for the bounded retry protocol.
func (s *Session) Invoke(ctx context.Context, r Request) ([]byte, error) {
	var body io.Reader
	contentType := ""
	switch {
	case r.JSON != nil:
		b, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	case r.Form != nil:
		body = strings.NewReader(r.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	u := *s.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(r.Path, "/")
	if len(r.Query) > 0 {
		u.RawQuery = r.Query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, u.String(), body)
	if err != nil {
		return nil, err
	}
	for k, vs := range s.headers {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if s.hooks.Before != nil {
		if err := s.hooks.Before(req); err != nil {
			return nil, err
		}
	}

	s.log.Debug("portal request",
		logx.String("method", r.Method),
		logx.String("url", u.String()))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	s.log.Debug("portal response",
		logx.String("method", r.Method),
		logx.String("url", u.String()),
		logx.Int("status", resp.StatusCode),
		logx.Int("bytes", len(raw)))

	if s.hooks.After != nil {
		if v := s.hooks.After(resp, raw); v == Reauthenticate {
			return nil, ErrUnauthorized
		}
	}
	return raw, nil
}
