package billing

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// envelope is the portal's uniform response wrapper.
type envelope struct {
	Code    int             `json:"code"`
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

// codeUnauthorized is the numeric error code the portal reserves for an
// invalid or expired session.
const codeUnauthorized = -5

// flexNumber tolerates the portal sending numeric fields either raw or
// quoted, which it does inconsistently across endpoints.
type flexNumber string

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	*n = flexNumber(strings.Trim(string(b), `"`))
	return nil
}

func (n flexNumber) String() string { return string(n) }

func (n flexNumber) Int64() int64 {
	v, _ := strconv.ParseInt(string(n), 10, 64)
	return v
}

// Bill is one settled prepay-energy charge.
type Bill struct {
	ConsumeDate flexNumber `json:"consumeDate"` // unix millis
	AvgUsing    flexNumber `json:"avgUsing"`
	UnitPrice   flexNumber `json:"unitPrice"`
	Rate        flexNumber `json:"rate"`
	Fee         flexNumber `json:"fee"`
}

// SettledAt converts the portal's millisecond timestamp.
func (b Bill) SettledAt() time.Time {
	return time.UnixMilli(b.ConsumeDate.Int64())
}

// BillsPage is one page of the prepay-energy bill listing.
type BillsPage struct {
	Content []Bill `json:"content"`
}

type loginData struct {
	AccessToken string `json:"accessToken"`
}

type balanceData struct {
	Balance flexNumber `json:"balance"`
}
