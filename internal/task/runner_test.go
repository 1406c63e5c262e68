package task

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"dailytask/internal/attendance"
	"dailytask/internal/billing"
	"dailytask/internal/notify"
	logx "dailytask/pkg/logx"
)

type fakeBilling struct {
	mu      sync.Mutex
	calls   int
	page    *billing.BillsPage
	balance string
	pageErr error
	balErr  error
}

func (f *fakeBilling) FetchEnergyBills(ctx context.Context, page int) (*billing.BillsPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.page, f.pageErr
}

func (f *fakeBilling) FetchBalance(ctx context.Context) (string, error) {
	return f.balance, f.balErr
}

type fakeAttendance struct {
	mu        sync.Mutex
	punches   int
	result    *attendance.CheckInResult
	day       *attendance.DayTeam
	punchErr  error
	statusErr error
}

func (f *fakeAttendance) CheckIn(ctx context.Context) (*attendance.CheckInResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.punches++
	return f.result, f.punchErr
}

func (f *fakeAttendance) CheckInStatus(ctx context.Context) (*attendance.DayTeam, error) {
	return f.day, f.statusErr
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (f *fakeNotifier) Notify(ctx context.Context, m notify.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
}

func (f *fakeNotifier) sent() []notify.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Message(nil), f.msgs...)
}

type fakeOracle struct {
	workday bool
	err     error
}

func (f *fakeOracle) IsWorkday(ctx context.Context) (bool, error) { return f.workday, f.err }

func newTestRunner(b *fakeBilling, a *fakeAttendance, n *fakeNotifier, o *fakeOracle) *Runner {
	r := NewRunner(b, a, n, o, Jitter{}, logx.Nop())
	r.sleep = func(ctx context.Context, d time.Duration) {}
	r.randDelay = func(j Jitter) time.Duration { return 0 }
	return r
}

func mustBill(t *testing.T, raw string) billing.Bill {
	t.Helper()
	var b billing.Bill
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		t.Fatalf("bill fixture: %v", err)
	}
	return b
}

func TestDailyBillsNotifiesSummary(t *testing.T) {
	t.Parallel()
	fb := &fakeBilling{
		page: &billing.BillsPage{Content: []billing.Bill{
			mustBill(t, `{"consumeDate":1710000000000,"avgUsing":"12.5","unitPrice":"0.55","rate":"1","fee":"6.88"}`),
		}},
		balance: "42.07",
	}
	fn := &fakeNotifier{}
	r := newTestRunner(fb, &fakeAttendance{}, fn, &fakeOracle{})

	r.DailyBills(context.Background())

	msgs := fn.sent()
	if len(msgs) != 1 {
		t.Fatalf("notifications = %d, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Topic != "daily" || m.Title != "电费账单" {
		t.Fatalf("message = %+v", m)
	}
	for _, want := range []string{"用电量: 12.5度", "单价: 0.55 × 1", "小计: 6.88", "余额: 42.07"} {
		if !strings.Contains(m.Body, want) {
			t.Fatalf("body missing %q:\n%s", want, m.Body)
		}
	}
}

func TestDailyBillsReportsFetchFailure(t *testing.T) {
	t.Parallel()
	fb := &fakeBilling{pageErr: errors.New("portal down")}
	fn := &fakeNotifier{}
	r := newTestRunner(fb, &fakeAttendance{}, fn, &fakeOracle{})

	r.DailyBills(context.Background())

	msgs := fn.sent()
	if len(msgs) != 1 {
		t.Fatalf("notifications = %d, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Topic != "error" || m.Priority != notify.PriorityMax {
		t.Fatalf("error message = %+v", m)
	}
	if !strings.Contains(m.Body, "获取电费账单异常") || !strings.Contains(m.Body, "portal down") {
		t.Fatalf("body = %s", m.Body)
	}
}

func TestDailyBillsReportsEmptyPage(t *testing.T) {
	t.Parallel()
	fb := &fakeBilling{page: &billing.BillsPage{}}
	fn := &fakeNotifier{}
	r := newTestRunner(fb, &fakeAttendance{}, fn, &fakeOracle{})

	r.DailyBills(context.Background())
	msgs := fn.sent()
	if len(msgs) != 1 || msgs[0].Topic != "error" {
		t.Fatalf("msgs = %+v", msgs)
	}
}

func TestCheckInNotifiesPunchSummary(t *testing.T) {
	t.Parallel()
	fa := &fakeAttendance{
		result: &attendance.CheckInResult{Msg: "打卡成功"},
		day: &attendance.DayTeam{KqCountSimple: attendance.PunchSummary{
			SbDkTime: "09:01", SbStatusName: "正常",
			XbDkTime: "18:30", XbStatusName: "正常",
		}},
	}
	fn := &fakeNotifier{}
	r := newTestRunner(&fakeBilling{}, fa, fn, &fakeOracle{})

	r.CheckIn(context.Background())

	msgs := fn.sent()
	if len(msgs) != 1 {
		t.Fatalf("notifications = %d, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Title != "⏰打卡成功" {
		t.Fatalf("title = %q", m.Title)
	}
	lines := strings.Split(m.Body, "\n")
	if len(lines) != 2 {
		t.Fatalf("body lines = %d:\n%s", len(lines), m.Body)
	}
	if lines[0] != "💤：09:01 正常 ✅" || lines[1] != "🎉：18:30 正常 ✅" {
		t.Fatalf("body = %q", m.Body)
	}
}

func TestCheckInBodyOmitsMissingEndPunch(t *testing.T) {
	t.Parallel()
	body := formatPunchMessage(attendance.PunchSummary{
		SbDkTime: "09:01", SbStatusName: "迟到",
	})
	if strings.Contains(body, "🎉") {
		t.Fatalf("end punch line present without an end punch: %q", body)
	}
	if !strings.Contains(body, "迟到 ❌") {
		t.Fatalf("late status not flagged: %q", body)
	}
}

func TestWorkdayGateSkipsSilently(t *testing.T) {
	t.Parallel()
	fb := &fakeBilling{}
	fa := &fakeAttendance{}
	fn := &fakeNotifier{}
	r := newTestRunner(fb, fa, fn, &fakeOracle{workday: false})

	r.DailyBillsOnWorkday(context.Background())
	r.CheckInOnWorkday(context.Background())
	r.CheckInWithJitterOnWorkday(context.Background())

	if fb.calls != 0 || fa.punches != 0 {
		t.Fatalf("portal calls on a holiday: billing=%d attendance=%d", fb.calls, fa.punches)
	}
	if got := len(fn.sent()); got != 0 {
		t.Fatalf("notifications on a holiday: %d", got)
	}
}

func TestWorkdayGateRunsTask(t *testing.T) {
	t.Parallel()
	fa := &fakeAttendance{
		result: &attendance.CheckInResult{Msg: "ok"},
		day:    &attendance.DayTeam{},
	}
	fn := &fakeNotifier{}
	r := newTestRunner(&fakeBilling{}, fa, fn, &fakeOracle{workday: true})

	r.CheckInWithJitterOnWorkday(context.Background())
	if fa.punches != 1 {
		t.Fatalf("punches = %d, want 1", fa.punches)
	}
}

func TestWorkdayOracleFailureIsReported(t *testing.T) {
	t.Parallel()
	fa := &fakeAttendance{}
	fn := &fakeNotifier{}
	r := newTestRunner(&fakeBilling{}, fa, fn, &fakeOracle{err: errors.New("oracle down")})

	r.CheckInOnWorkday(context.Background())
	if fa.punches != 0 {
		t.Fatal("punched despite oracle failure")
	}
	msgs := fn.sent()
	if len(msgs) != 1 || msgs[0].Topic != "error" {
		t.Fatalf("msgs = %+v", msgs)
	}
}

func TestTaskPanicBecomesErrorNotification(t *testing.T) {
	t.Parallel()
	fn := &fakeNotifier{}
	r := newTestRunner(&fakeBilling{page: nil}, &fakeAttendance{}, fn, &fakeOracle{})
	// nil page with nil error dereferences in DailyBills; the recover path
	// must turn that into an error notification.
	r.DailyBills(context.Background())
	msgs := fn.sent()
	if len(msgs) != 1 || msgs[0].Topic != "error" {
		t.Fatalf("msgs = %+v", msgs)
	}
	if !strings.Contains(msgs[0].Body, "panic") {
		t.Fatalf("body = %s", msgs[0].Body)
	}
}

func TestRandomDelayStaysWithinBounds(t *testing.T) {
	t.Parallel()
	j := Jitter{Min: time.Second, Max: 5 * time.Second}
	for i := 0; i < 100; i++ {
		d := randomDelay(j)
		if d < j.Min || d >= j.Max {
			t.Fatalf("delay %v outside [%v,%v)", d, j.Min, j.Max)
		}
	}
	if d := randomDelay(Jitter{Min: time.Second, Max: time.Second}); d != time.Second {
		t.Fatalf("degenerate window delay = %v", d)
	}
}
