// Package billing talks to the utility portal's prepay-energy API through an
// authenticated session with the two-token scheme: a short-lived access
// token attached as a session cookie, renewed from a long-lived refresh
// token, falling back to a full account login when the refresh token is
// rejected. Both tokens are persisted write-through.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"dailytask/internal/session"
	"dailytask/internal/tokenstore"
	"dailytask/pkg/logx"
)

type Config struct {
	BaseURL  string
	Account  string
	Password string
	Retry    session.Policy
}

// Client is a long-lived authenticated client for the billing portal.
// Token state is guarded by one mutex; concurrent callers observing an
// invalid session each attempt re-authentication, and the lock serializes
// the actual token mutation. Redundant logins are tolerated rather than
// blocking readers.
type Client struct {
	cfg   Config
	store tokenstore.Store
	log   logx.Logger
	sess  *session.Session

	// auth is for the login/refresh endpoints themselves, which must not
	// run through the hooked session (they are what the hooks fall back to).
	auth *http.Client

	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

func New(cfg Config, store tokenstore.Store, log logx.Logger) (*Client, error) {
	c := &Client{
		cfg:   cfg,
		store: store,
		log:   log,
		auth:  &http.Client{Timeout: session.DefaultTimeout},
	}

	sess, err := session.New(cfg.BaseURL,
		session.WithLogger(log),
		session.WithHooks(session.Hooks{
			Before: c.attachCredential,
			After:  c.inspectResponse,
		}),
	)
	if err != nil {
		return nil, err
	}
	c.sess = sess

	// Resume with the last persisted credential before any network call.
	ctx := context.Background()
	if v, ok, err := store.Load(ctx, tokenstore.KeyAccessToken); err == nil && ok {
		c.accessToken = v
	}
	if v, ok, err := store.Load(ctx, tokenstore.KeyRefreshToken); err == nil && ok {
		c.refreshToken = v
	}
	return c, nil
}

// AccessToken returns the current access token (empty means never
// authenticated).
func (c *Client) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

func (c *Client) attachCredential(req *http.Request) error {
	c.mu.Lock()
	token := c.accessToken
	c.mu.Unlock()
	req.Header.Set("Cookie", "SESSION="+token)
	return nil
}

func (c *Client) inspectResponse(resp *http.Response, body []byte) session.Verdict {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return session.Continue
	}
	if env.Code != codeUnauthorized {
		return session.Continue
	}
	ctx, cancel := context.WithTimeout(context.Background(), session.DefaultTimeout)
	defer cancel()
	c.refreshAccessToken(ctx)
	return session.Reauthenticate
}

// login obtains a fresh access token and immediately exchanges it for a
// refresh token. A server-reported login failure is logged and leaves state
// unchanged: the next invoke attempt will observe the invalid token and
// retry the whole protocol.
func (c *Client) login(ctx context.Context) {
	env, err := c.postAuth(ctx, "/user/login", "", map[string]string{
		"account":  c.cfg.Account,
		"password": c.cfg.Password,
	})
	if err != nil {
		c.log.Error("login request failed", logx.Err(err))
		return
	}
	if !env.Success {
		c.log.Error("login rejected", logx.Int("code", env.Code), logx.String("msg", env.Msg))
		return
	}
	var data loginData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		c.log.Error("login response malformed", logx.Err(err))
		return
	}

	c.mu.Lock()
	c.accessToken = data.AccessToken
	c.mu.Unlock()
	c.persist(ctx, tokenstore.KeyAccessToken, data.AccessToken)
	c.log.Info("login success")

	c.applyToken(ctx)
}

// applyToken exchanges the access token for the long-lived refresh token.
func (c *Client) applyToken(ctx context.Context) {
	c.mu.Lock()
	token := c.accessToken
	c.mu.Unlock()

	env, err := c.postAuth(ctx, "/user/login/applyToken", token, nil)
	if err != nil {
		c.log.Error("apply token request failed", logx.Err(err))
		return
	}
	if !env.Success {
		c.log.Error("apply token rejected", logx.Int("code", env.Code), logx.String("msg", env.Msg))
		return
	}
	var refresh string
	if err := json.Unmarshal(env.Data, &refresh); err != nil {
		c.log.Error("apply token response malformed", logx.Err(err))
		return
	}

	c.mu.Lock()
	c.refreshToken = refresh
	c.mu.Unlock()
	c.persist(ctx, tokenstore.KeyRefreshToken, refresh)
	c.log.Info("apply token success")
}

// refreshAccessToken renews the access token from the refresh token,
// falling back to a full login when the portal rejects it.
func (c *Client) refreshAccessToken(ctx context.Context) {
	c.mu.Lock()
	refresh := c.refreshToken
	c.mu.Unlock()

	env, err := c.postAuth(ctx, "/user/login/loginByToken", "", map[string]string{
		"token": refresh,
	})
	if err != nil {
		c.log.Error("refresh token request failed", logx.Err(err))
		c.login(ctx)
		return
	}
	if env.Code != 0 {
		c.log.Error("refresh token rejected", logx.Int("code", env.Code), logx.String("msg", env.Msg))
		c.login(ctx)
		return
	}
	var data loginData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		c.log.Error("refresh token response malformed", logx.Err(err))
		return
	}

	c.mu.Lock()
	c.accessToken = data.AccessToken
	c.mu.Unlock()
	c.persist(ctx, tokenstore.KeyAccessToken, data.AccessToken)
	c.log.Info("refresh token success")
}

func (c *Client) persist(ctx context.Context, key, value string) {
	if err := c.store.Save(ctx, key, value); err != nil {
		c.log.Error("token persist failed", logx.String("key", key), logx.Err(err))
	}
}

// postAuth posts to the login endpoints outside the hooked session.
func (c *Client) postAuth(ctx context.Context, path, sessionCookie string, payload map[string]string) (*envelope, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionCookie != "" {
		req.Header.Set("Cookie", "SESSION="+sessionCookie)
	}
	resp, err := c.auth.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

// FetchEnergyBills returns one page of settled prepay-energy charges.
func (c *Client) FetchEnergyBills(ctx context.Context, page int) (*BillsPage, error) {
	return session.Do(ctx, c.cfg.Retry, c.log, "fetch energy bills", func(ctx context.Context) (*BillsPage, error) {
		raw, err := c.sess.Invoke(ctx, session.Request{
			Method: http.MethodPost,
			Path:   "/smart/prepayEnergyList/page",
			JSON:   map[string]int{"pageNo": page},
		})
		if err != nil {
			return nil, err
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, err
		}
		if !env.Success {
			return nil, &session.RemoteError{Code: env.Code, Msg: env.Msg}
		}
		var p BillsPage
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	})
}

// FetchBalance returns the remaining prepay balance.
func (c *Client) FetchBalance(ctx context.Context) (string, error) {
	return session.Do(ctx, c.cfg.Retry, c.log, "fetch balance", func(ctx context.Context) (string, error) {
		raw, err := c.sess.Invoke(ctx, session.Request{
			Method: http.MethodGet,
			Path:   "/user/prepayBalance",
		})
		if err != nil {
			return "", err
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return "", err
		}
		if !env.Success {
			return "", &session.RemoteError{Code: env.Code, Msg: env.Msg}
		}
		var data balanceData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return "", err
		}
		return data.Balance.String(), nil
	})
}
