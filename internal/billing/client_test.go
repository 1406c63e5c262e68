package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"dailytask/internal/session"
	"dailytask/internal/tokenstore"
	logx "dailytask/pkg/logx"
)

type memStore struct {
	mu sync.Mutex
	m  map[string]string
}

func newMemStore() *memStore { return &memStore{m: map[string]string{}} }

func (s *memStore) Save(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

func (s *memStore) Load(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *memStore) Close() error { return nil }

// portalStub mimics the billing portal: data endpoints reject any session
// cookie not in valid, auth endpoints mint tokens.
type portalStub struct {
	mu           sync.Mutex
	validAccess  string
	validRefresh string
	logins       int
	refreshes    int
}

func (p *portalStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/user/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		p.mu.Lock()
		defer p.mu.Unlock()
		p.logins++
		if body["account"] != "acct" || body["password"] != "pw" {
			writeJSON(w, `{"code":1,"success":false,"msg":"bad credentials"}`)
			return
		}
		p.validAccess = "access-from-login"
		writeJSON(w, `{"code":0,"success":true,"msg":"ok","data":{"accessToken":"access-from-login"}}`)
	})
	mux.HandleFunc("/user/login/applyToken", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.validRefresh = "refresh-1"
		writeJSON(w, `{"code":0,"success":true,"msg":"ok","data":"refresh-1"}`)
	})
	mux.HandleFunc("/user/login/loginByToken", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		p.mu.Lock()
		defer p.mu.Unlock()
		p.refreshes++
		if body["token"] == "" || body["token"] != p.validRefresh {
			writeJSON(w, `{"code":2,"success":false,"msg":"refresh rejected"}`)
			return
		}
		p.validAccess = "access-from-refresh"
		writeJSON(w, `{"code":0,"success":true,"msg":"ok","data":{"accessToken":"access-from-refresh"}}`)
	})
	mux.HandleFunc("/smart/prepayEnergyList/page", func(w http.ResponseWriter, r *http.Request) {
		if !p.authorized(r) {
			writeJSON(w, `{"code":-5,"success":false,"msg":"session expired"}`)
			return
		}
		writeJSON(w, `{"code":0,"success":true,"msg":"ok","data":{"content":[
			{"consumeDate":"1710000000000","avgUsing":"12.5","unitPrice":"0.55","rate":1,"fee":"6.88"}
		]}}`)
	})
	mux.HandleFunc("/user/prepayBalance", func(w http.ResponseWriter, r *http.Request) {
		if !p.authorized(r) {
			writeJSON(w, `{"code":-5,"success":false,"msg":"session expired"}`)
			return
		}
		writeJSON(w, `{"code":0,"success":true,"msg":"ok","data":{"balance":42.07}}`)
	})
	return mux
}

func (p *portalStub) authorized(r *http.Request) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cookie := r.Header.Get("Cookie")
	return p.validAccess != "" && cookie == "SESSION="+p.validAccess
}

func writeJSON(w http.ResponseWriter, s string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(s))
}

func newTestClient(t *testing.T, srv *httptest.Server, store tokenstore.Store) *Client {
	t.Helper()
	c, err := New(Config{
		BaseURL:  srv.URL,
		Account:  "acct",
		Password: "pw",
		Retry:    session.Policy{Attempts: 3},
	}, store, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestFetchEnergyBillsRecoversFromExpiredSession(t *testing.T) {
	t.Parallel()
	stub := &portalStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	store := newMemStore()
	c := newTestClient(t, srv, store)

	// No token at all: first attempt hits -5, refresh falls back to login,
	// the replay succeeds with the minted token.
	page, err := c.FetchEnergyBills(context.Background(), 1)
	if err != nil {
		t.Fatalf("FetchEnergyBills: %v", err)
	}
	if len(page.Content) != 1 {
		t.Fatalf("bills = %d, want 1", len(page.Content))
	}
	b := page.Content[0]
	if b.Fee.String() != "6.88" || b.AvgUsing.String() != "12.5" {
		t.Fatalf("bill fields = %+v", b)
	}
	if b.SettledAt().UnixMilli() != 1710000000000 {
		t.Fatalf("SettledAt = %v", b.SettledAt())
	}
	if stub.logins == 0 {
		t.Fatal("expected a fallback login")
	}

	// Both tokens persisted write-through.
	if v, ok, _ := store.Load(context.Background(), tokenstore.KeyAccessToken); !ok || v == "" {
		t.Fatal("access token not persisted")
	}
	if v, ok, _ := store.Load(context.Background(), tokenstore.KeyRefreshToken); !ok || v != "refresh-1" {
		t.Fatalf("refresh token = %q, want refresh-1", v)
	}
}

func TestFetchBalanceUsesRefreshBeforeLogin(t *testing.T) {
	t.Parallel()
	stub := &portalStub{validRefresh: "refresh-1"}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	store := newMemStore()
	_ = store.Save(context.Background(), tokenstore.KeyRefreshToken, "refresh-1")
	// stale access token: forces one -5 round trip
	_ = store.Save(context.Background(), tokenstore.KeyAccessToken, "stale")

	c := newTestClient(t, srv, store)
	bal, err := c.FetchBalance(context.Background())
	if err != nil {
		t.Fatalf("FetchBalance: %v", err)
	}
	if bal != "42.07" {
		t.Fatalf("balance = %q, want 42.07", bal)
	}
	if stub.refreshes == 0 {
		t.Fatal("expected a token refresh")
	}
	if stub.logins != 0 {
		t.Fatalf("logins = %d, want 0 (refresh token was valid)", stub.logins)
	}
}

func TestClientResumesPersistedTokens(t *testing.T) {
	t.Parallel()
	stub := &portalStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	store := newMemStore()
	_ = store.Save(context.Background(), tokenstore.KeyAccessToken, "resumed-access")

	c := newTestClient(t, srv, store)
	if got := c.AccessToken(); got != "resumed-access" {
		t.Fatalf("AccessToken = %q, want resumed-access", got)
	}
}

func TestLoginFailureLeavesStateUnchanged(t *testing.T) {
	t.Parallel()
	stub := &portalStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	store := newMemStore()
	c, err := New(Config{
		BaseURL:  srv.URL,
		Account:  "acct",
		Password: "wrong",
		Retry:    session.Policy{Attempts: 3},
	}, store, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Every attempt fails -5, every re-auth path ends in a rejected login.
	_, err = c.FetchEnergyBills(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := c.AccessToken(); got != "" {
		t.Fatalf("access token = %q, want empty after rejected logins", got)
	}
	if _, ok, _ := store.Load(context.Background(), tokenstore.KeyAccessToken); ok {
		t.Fatal("rejected login must not persist a token")
	}
}

func TestFlexNumberTolerance(t *testing.T) {
	t.Parallel()
	var b Bill
	raw := `{"consumeDate":1710000000000,"avgUsing":"3.2","unitPrice":0.55,"rate":"1","fee":1.76}`
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if b.ConsumeDate.Int64() != 1710000000000 {
		t.Fatalf("consumeDate = %s", b.ConsumeDate)
	}
	for _, v := range []string{b.AvgUsing.String(), b.UnitPrice.String(), b.Rate.String(), b.Fee.String()} {
		if strings.Contains(v, `"`) {
			t.Fatalf("quoted value leaked: %q", v)
		}
	}
}
