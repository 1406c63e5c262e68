package attendance

import "encoding/json"

// envelope is the HR portal's response wrapper. The portal reports success
// as state "1"; error detail arrives in either "meg" or "tipMsg" depending
// on the endpoint.
type envelope struct {
	State  string          `json:"state"`
	Result json.RawMessage `json:"result"`
	Meg    string          `json:"meg"`
	TipMsg string          `json:"tipMsg"`
}

// stateNoSession is the payload marker for an expired session cookie.
const stateNoSession = "Nosession"

// loginRedirectPath is where the portal bounces unauthenticated requests.
const loginRedirectPath = "/RedseaPlatform/index"

// User is the cached profile fetched after the first successful login.
type User struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	StaffID  string `json:"staffId"`
}

// CheckInResult is the direct outcome of a punch.
type CheckInResult struct {
	Msg string `json:"msg"`
}

// DayTeam is the portal's per-day punch report.
type DayTeam struct {
	KqCountSimple PunchSummary `json:"kqCountSimple"`
}

// PunchSummary carries up to three start (sb, "上班") and end (xb, "下班")
// punch slots; the portal fills whichever slot the shift plan uses.
type PunchSummary struct {
	SbDkTime      string `json:"sbDkTime"`
	SbDkTime2     string `json:"sbDkTime2"`
	SbDkTime3     string `json:"sbDkTime3"`
	SbStatusName  string `json:"sbStatusName"`
	SbStatusName2 string `json:"sbStatusName2"`
	SbStatusName3 string `json:"sbStatusName3"`
	XbDkTime      string `json:"xbDkTime"`
	XbDkTime2     string `json:"xbDkTime2"`
	XbDkTime3     string `json:"xbDkTime3"`
	XbStatusName  string `json:"xbStatusName"`
	XbStatusName2 string `json:"xbStatusName2"`
	XbStatusName3 string `json:"xbStatusName3"`
}

func (p PunchSummary) StartTime() string {
	return firstNonEmpty(p.SbDkTime, p.SbDkTime2, p.SbDkTime3)
}

// StartStatus reports the start-punch state, defaulting to 正常 (normal)
// when the portal leaves the slot blank.
func (p PunchSummary) StartStatus() string {
	return firstNonEmpty(p.SbStatusName, p.SbStatusName2, p.SbStatusName3, "正常")
}

func (p PunchSummary) EndTime() string {
	return firstNonEmpty(p.XbDkTime, p.XbDkTime2, p.XbDkTime3)
}

func (p PunchSummary) EndStatus() string {
	return firstNonEmpty(p.XbStatusName, p.XbStatusName2, p.XbStatusName3, "正常")
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
