// Package workday asks an external calendar service whether today is a
// business day. Failures propagate: the task layer's blanket handler is the
// right place to report them.
package workday

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

const requestTimeout = 24 * time.Second

type Oracle struct {
	base string
	http *http.Client
}

func NewOracle(baseURL string) *Oracle {
	return &Oracle{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: requestTimeout},
	}
}

type todayResponse struct {
	Success bool `json:"success"`
	Data    struct {
		IsWorkday bool `json:"isWorkday"`
	} `json:"data"`
}

func (o *Oracle) IsWorkday(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.base+"/workday/today", nil)
	if err != nil {
		return false, err
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var r todayResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return false, err
	}
	if !r.Success {
		return false, errors.New("workday oracle reported failure")
	}
	return r.Data.IsWorkday, nil
}
