package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"dailytask/internal/eventbus"
	logx "dailytask/pkg/logx"
)

func TestNtfySendPublishesJSON(t *testing.T) {
	t.Parallel()
	var got ntfyPayload
	var user, pass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		user, pass, _ = r.BasicAuth()
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"id":"m-1"}`))
	}))
	defer srv.Close()

	n := NewNtfy(srv.URL, "bot", "pw", logx.Nop())
	err := n.Send(context.Background(), Message{
		Topic:    "daily",
		Title:    "电费账单",
		Body:     "余额: 42.07",
		Priority: PriorityDefault,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Topic != "daily" || got.Title != "电费账单" || got.Message != "余额: 42.07" {
		t.Fatalf("payload = %+v", got)
	}
	if got.Priority != PriorityDefault {
		t.Fatalf("priority = %d", got.Priority)
	}
	if user != "bot" || pass != "pw" {
		t.Fatalf("basic auth = %s/%s", user, pass)
	}
}

func TestNtfyServerErrorIsSwallowed(t *testing.T) {
	t.Parallel()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"limit reached"}`))
	}))
	defer srv.Close()

	n := NewNtfy(srv.URL, "", "", logx.Nop())
	if err := n.Send(context.Background(), Message{Topic: "daily", Body: "x"}); err != nil {
		t.Fatalf("server-reported error must be swallowed, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (server errors are not retried)", calls)
	}
}

type stubSender struct {
	name string
	err  error
	sent []Message
}

func (s *stubSender) Name() string { return s.name }
func (s *stubSender) Send(ctx context.Context, m Message) error {
	s.sent = append(s.sent, m)
	return s.err
}

func TestServiceFansOutToAllChannels(t *testing.T) {
	t.Parallel()
	a := &stubSender{name: "ntfy"}
	b := &stubSender{name: "telegram"}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	svc := NewService(logx.Nop(), bus, a, b)
	svc.Notify(context.Background(), Message{Topic: "daily", Body: "hello"})

	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Fatalf("fanout = %d/%d", len(a.sent), len(b.sent))
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		ev := <-ch
		if ev.Type != eventbus.EventNotifySent {
			t.Fatalf("event type = %s", ev.Type)
		}
		seen[ev.Data.(Event).Channel] = true
	}
	if !seen["ntfy"] || !seen["telegram"] {
		t.Fatalf("channels seen = %v", seen)
	}
}

func TestServiceFailureDoesNotStopFanout(t *testing.T) {
	t.Parallel()
	bad := &stubSender{name: "ntfy", err: context.DeadlineExceeded}
	good := &stubSender{name: "telegram"}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	svc := NewService(logx.Nop(), bus, bad, good)
	svc.Notify(context.Background(), Message{Topic: "error", Body: "x"})

	if len(good.sent) != 1 {
		t.Fatal("second channel skipped after first channel failure")
	}
	ev := <-ch
	if ev.Type != eventbus.EventNotifyFailed {
		t.Fatalf("first event = %s, want %s", ev.Type, eventbus.EventNotifyFailed)
	}
	if e := ev.Data.(Event); e.Error == "" {
		t.Fatal("failure event carries no error detail")
	}
}
