// Package attendance talks to the HR portal's check-in ("touch fish") API.
//
// Authentication is a cookie + signed-token scheme: an MD5-signed SSO
// request exchanges a shared secret for a short-lived token, which an
// OAuth-style redirect flow turns into a session cookie. The first
// successful login also caches the user profile needed by later calls.
package attendance

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"sync"
	"time"

	"dailytask/internal/session"
	"dailytask/pkg/logx"
)

type Config struct {
	BaseURL   string
	UserAgent string
	AppSecret string
	LoginID   string
	AgentID   string
	Longitude []string
	Latitude  []string
	Address   string
	Retry     session.Policy
}

// Client is a long-lived authenticated client for the HR portal. Cookie and
// profile state are guarded by one mutex; redundant concurrent logins are
// tolerated, the lock only serializes the state mutation.
type Client struct {
	cfg  Config
	host string
	log  logx.Logger
	sess *session.Session

	// auth issues the login flow itself. It shares the session's cookie jar
	// so the cookies granted during login are visible to hooked calls, and
	// unlike the session it follows the oauth redirect chain.
	auth *http.Client

	// pick selects an index in [0,n); injectable for deterministic tests.
	pick func(n int) int

	// now feeds the signed-request timestamp.
	now func() time.Time

	mu   sync.Mutex
	user *User
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:  cfg,
		host: u.Hostname(),
		log:  log,
		auth: &http.Client{Timeout: session.DefaultTimeout, Jar: jar},
		pick: rand.Intn,
		now:  time.Now,
	}

	sess, err := session.New(cfg.BaseURL,
		session.WithLogger(log),
		session.WithCookieJar(jar),
		session.WithoutRedirects(),
		session.WithHeader("User-Agent", cfg.UserAgent),
		session.WithHeader("Origin", "https://"+c.host),
		session.WithHooks(session.Hooks{
			Before: c.ensureUser,
			After:  c.inspectResponse,
		}),
	)
	if err != nil {
		return nil, err
	}
	c.sess = sess
	return c, nil
}

// User returns the cached profile, or nil before the first login.
func (c *Client) User() *User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// ensureUser performs the full first-use initialization (login + profile
// fetch) and then fails the attempt with ErrUnauthorized so the retry
// wrapper replays the original call on the now-valid session.
func (c *Client) ensureUser(req *http.Request) error {
	c.mu.Lock()
	u := c.user
	c.mu.Unlock()
	if u != nil {
		return nil
	}
	if err := c.initialize(req.Context()); err != nil {
		return err
	}
	return session.ErrUnauthorized
}

func (c *Client) inspectResponse(resp *http.Response, body []byte) session.Verdict {
	ctx, cancel := context.WithTimeout(context.Background(), session.DefaultTimeout)
	defer cancel()

	// Redirect to the login page means the cookie is gone.
	if resp.StatusCode == http.StatusFound && resp.Header.Get("Location") == loginRedirectPath {
		if err := c.login(ctx); err != nil {
			c.log.Error("re-login failed", logx.Err(err))
		}
		return session.Reauthenticate
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return session.Continue
	}
	if env.State == stateNoSession {
		if err := c.login(ctx); err != nil {
			c.log.Error("re-login failed", logx.Err(err))
		}
		return session.Reauthenticate
	}
	return session.Continue
}

func (c *Client) initialize(ctx context.Context) error {
	if err := c.login(ctx); err != nil {
		return err
	}
	u, err := c.fetchUserInfo(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.user = u
	c.mu.Unlock()
	c.log.Info("attendance session ready",
		logx.String("user", u.UserName),
		logx.String("staff_id", u.StaffID))
	return nil
}

// createToken builds the MD5-signed SSO request and exchanges it for a
// short-lived token. Failure is fatal: without a valid signature nothing
// else can proceed.
func (c *Client) createToken(ctx context.Context) (string, error) {
	ts := c.now().UnixMilli()
	q := url.Values{}
	q.Set("method", "createtoken")
	q.Set("loginId", c.cfg.LoginID)
	q.Set("loginIdType", "EXTERNALUSE")
	q.Set("timestamp", strconv.FormatInt(ts, 10))
	q.Set("sign", sign(c.cfg.AppSecret, c.cfg.LoginID, ts))

	env, err := c.getAuth(ctx, "/RedseaPlatform/vwork/third/api/sso.mob", q)
	if err != nil {
		return "", err
	}
	if env.State != "1" {
		return "", &session.RemoteError{Msg: env.Meg}
	}
	var token string
	if err := json.Unmarshal(env.Result, &token); err != nil {
		return "", fmt.Errorf("sso token malformed: %w", err)
	}
	return token, nil
}

// login exchanges the SSO token for a session cookie via the portal's
// oauth redirect flow. The shared cookie jar captures the cookies.
func (c *Client) login(ctx context.Context) error {
	token, err := c.createToken(ctx)
	if err != nil {
		return err
	}

	q := url.Values{}
	q.Set("method", "oauthLogin")
	q.Set("client", "app")
	q.Set("action", "login")
	q.Set("token", token)

	env, err := c.getAuth(ctx, "/RedseaPlatform/vwork/third/api/sso.mob", q)
	if err != nil {
		return err
	}
	if env.State != "1" {
		return &session.RemoteError{Msg: env.TipMsg}
	}
	c.log.Info("login success")
	return nil
}

// fetchUserInfo loads the current user profile. An empty body means the
// fresh cookie is not valid yet; retry the login protocol.
func (c *Client) fetchUserInfo(ctx context.Context) (*User, error) {
	return session.Do(ctx, c.cfg.Retry, c.log, "fetch user info", func(ctx context.Context) (*User, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.BaseURL+"/RedseaPlatform/PtUsers.mc?method=getCurUserInfo", nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.auth.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if len(body) == 0 {
			if err := c.login(ctx); err != nil {
				return nil, err
			}
			return nil, session.ErrUnauthorized
		}
		var u User
		if err := json.Unmarshal(body, &u); err != nil {
			return nil, err
		}
		return &u, nil
	})
}

// CheckIn submits one punch from a randomly chosen configured location.
func (c *Client) CheckIn(ctx context.Context) (*CheckInResult, error) {
	return session.Do(ctx, c.cfg.Retry, c.log, "check in", func(ctx context.Context) (*CheckInResult, error) {
		longitude := c.cfg.Longitude[c.pick(len(c.cfg.Longitude))]
		latitude := c.cfg.Latitude[c.pick(len(c.cfg.Latitude))]

		form := url.Values{}
		form.Set("longitude", longitude)
		form.Set("latitude", latitude)
		form.Set("address", c.cfg.Address)
		form.Set("actualAddress", longitude+","+latitude)
		form.Set("agentId", c.cfg.AgentID)
		form.Set("imei", "")
		form.Set("ssid", "")
		form.Set("faceUrl", "")
		form.Set("isLeave", "false")
		form.Set("clientType", "1")
		form.Set("mockGpsProbability", "")

		raw, err := c.sess.Invoke(ctx, session.Request{
			Method: http.MethodPost,
			Path:   "/RedseaPlatform/kqCommonDaka.mc",
			Query:  url.Values{"method": []string{"daka"}},
			Header: http.Header{"Referer": []string{c.refererURL()}},
			Form:   form,
		})
		if err != nil {
			return nil, err
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, err
		}
		if env.State != "1" {
			return nil, &session.RemoteError{Msg: env.Meg}
		}
		var r CheckInResult
		if err := json.Unmarshal(env.Result, &r); err != nil {
			return nil, err
		}
		return &r, nil
	})
}

// CheckInStatus fetches the day's punch summary for the cached user.
func (c *Client) CheckInStatus(ctx context.Context) (*DayTeam, error) {
	return session.Do(ctx, c.cfg.Retry, c.log, "check-in status", func(ctx context.Context) (*DayTeam, error) {
		c.mu.Lock()
		u := c.user
		c.mu.Unlock()

		q := url.Values{"method": []string{"getDayTeam"}}
		if u != nil {
			q.Set("userId", u.UserID)
		}
		raw, err := c.sess.Invoke(ctx, session.Request{
			Method: http.MethodPost,
			Path:   "/RedseaPlatform/dingDingKqInteface.mc",
			Query:  q,
			Header: http.Header{"Referer": []string{c.refererURL()}},
		})
		if err != nil {
			return nil, err
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, err
		}
		if env.State != "1" {
			return nil, &session.RemoteError{Msg: env.Meg}
		}
		var d DayTeam
		if err := json.Unmarshal(env.Result, &d); err != nil {
			return nil, err
		}
		return &d, nil
	})
}

func (c *Client) refererURL() string {
	return fmt.Sprintf("https://%s/RedseaPlatform/jsp/kqUni/punchCard/punchCard.jsp?agentId=%s=&isQywx=1",
		c.host, c.cfg.AgentID)
}

func (c *Client) getAuth(ctx context.Context, path string, q url.Values) (*envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
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

// sign computes the SSO request signature: md5 over secret, login id and
// the millisecond timestamp joined by "&".
func sign(secret, loginID string, timestampMillis int64) string {
	h := md5.Sum([]byte(secret + "&" + loginID + "&" + strconv.FormatInt(timestampMillis, 10)))
	return hex.EncodeToString(h[:])
}
