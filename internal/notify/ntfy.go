package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"dailytask/pkg/logx"
)

const (
	ntfyTimeout       = 10 * time.Second
	ntfySendAttempts  = 3
	ntfyRetryInterval = time.Second
)

type ntfyPayload struct {
	Topic    string   `json:"topic"`
	Message  string   `json:"message"`
	Title    string   `json:"title,omitempty"`
	Priority int      `json:"priority,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Click    string   `json:"click,omitempty"`
	Icons    string   `json:"icons,omitempty"`
	Markdown bool     `json:"markdown,omitempty"`
	Delay    string   `json:"delay,omitempty"`
	Email    string   `json:"email,omitempty"`
	Filename string   `json:"filename,omitempty"`
	Attach   string   `json:"attach,omitempty"`
}

type ntfyResult struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Ntfy publishes messages to an ntfy server over its JSON API.
type Ntfy struct {
	base     string
	username string
	password string
	http     *http.Client
	log      logx.Logger
}

func NewNtfy(baseURL, username, password string, log logx.Logger) *Ntfy {
	return &Ntfy{
		base:     strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		http:     &http.Client{Timeout: ntfyTimeout},
		log:      log,
	}
}

func (n *Ntfy) Name() string { return "ntfy" }

// Send publishes one message. Only transport timeouts are retried; a
// server-reported error is logged and swallowed.
func (n *Ntfy) Send(ctx context.Context, m Message) error {
	payload := ntfyPayload{
		Topic:    m.Topic,
		Message:  m.Body,
		Title:    m.Title,
		Priority: m.Priority,
		Tags:     m.Tags,
		Click:    m.Click,
		Icons:    m.Icon,
		Markdown: m.Markdown,
		Delay:    m.Delay,
		Email:    m.Email,
		Filename: m.Filename,
		Attach:   m.Attach,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= ntfySendAttempts; attempt++ {
		var res ntfyResult
		err := n.put(ctx, b, &res)
		if err == nil {
			if res.Error != "" {
				n.log.Error("ntfy rejected message",
					logx.String("topic", m.Topic),
					logx.String("detail", res.Error))
				return nil
			}
			n.log.Debug("ntfy message sent",
				logx.String("topic", m.Topic),
				logx.String("id", res.ID))
			return nil
		}
		lastErr = err
		if !isTimeout(err) || attempt == ntfySendAttempts {
			break
		}
		select {
		case <-time.After(ntfyRetryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func (n *Ntfy) put(ctx context.Context, body []byte, out *ntfyResult) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, n.base+"/", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.username != "" && n.password != "" {
		req.SetBasicAuth(n.username, n.password)
	}
	resp, err := n.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
