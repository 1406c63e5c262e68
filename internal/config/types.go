package config

import (
	"fmt"
	"time"
)

// Config is the full process configuration. It is decoded strictly (unknown
// keys are rejected) so stale keys are caught at startup, and validated with
// fail-fast semantics: a missing required setting aborts the process before
// anything else starts.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Server     ServerConfig     `json:"server"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Billing    BillingConfig    `json:"billing" validate:"required"`
	Attendance AttendanceConfig `json:"attendance" validate:"required"`
	Ntfy       NtfyConfig       `json:"ntfy" validate:"required"`
	Telegram   *TelegramConfig  `json:"telegram,omitempty"`
	Workday    WorkdayConfig    `json:"workday" validate:"required"`
	Storage    StorageConfig    `json:"storage"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// ServerConfig controls the management API. Token is the bearer secret; when
// left empty a random one is generated and logged once at startup.
type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`
}

type SchedulerConfig struct {
	// Trigger timezone (IANA name). Empty means the host timezone.
	Timezone string `json:"timezone,omitempty"`
}

type BillingConfig struct {
	BaseURL  string   `json:"base_url" validate:"required,url"`
	Account  string   `json:"account" validate:"required"`
	Password string   `json:"password" validate:"required"`
	Cron     []string `json:"cron" validate:"required,min=1"`
	// WorkdayOnly gates the scheduled billing task behind the workday oracle.
	WorkdayOnly bool `json:"workday_only"`
}

type AttendanceConfig struct {
	BaseURL   string   `json:"base_url" validate:"required,url"`
	UserAgent string   `json:"user_agent" validate:"required"`
	AppSecret string   `json:"app_secret" validate:"required"`
	LoginID   string   `json:"login_id" validate:"required"`
	AgentID   string   `json:"agent_id" validate:"required"`
	Longitude []string `json:"longitude" validate:"required,min=1"`
	Latitude  []string `json:"latitude" validate:"required,min=1"`
	Address   string   `json:"address" validate:"required"`
	Cron      []string `json:"cron" validate:"required,min=1"`
	// JitterMin/JitterMax bound the random pre-punch delay
	// (Go duration strings, e.g. "30s", "5m").
	JitterMin string `json:"jitter_min,omitempty"`
	JitterMax string `json:"jitter_max,omitempty"`
}

// JitterBounds parses the jitter window, defaulting to 1s..5m.
func (c AttendanceConfig) JitterBounds() (min, max time.Duration, err error) {
	min, err = parseDurationOrDefault("attendance.jitter_min", c.JitterMin, time.Second)
	if err != nil {
		return 0, 0, err
	}
	max, err = parseDurationOrDefault("attendance.jitter_max", c.JitterMax, 5*time.Minute)
	if err != nil {
		return 0, 0, err
	}
	if max < min {
		return 0, 0, fmt.Errorf("attendance.jitter_max (%s) below jitter_min (%s)", max, min)
	}
	return min, max, nil
}

type NtfyConfig struct {
	BaseURL  string `json:"base_url" validate:"required,url"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// TelegramConfig enables the optional secondary notification channel.
type TelegramConfig struct {
	Token  string `json:"token" validate:"required"`
	ChatID int64  `json:"chat_id" validate:"required"`
}

type WorkdayConfig struct {
	BaseURL string `json:"base_url" validate:"required,url"`
}

// StorageConfig selects token persistence: driver "file" (default, one file
// per token under Path) or "sqlite" (database file at Path).
type StorageConfig struct {
	Driver string `json:"driver,omitempty" validate:"omitempty,oneof=file sqlite"`
	Path   string `json:"path,omitempty"`
}

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", path, raw)
	}
	return d, nil
}
