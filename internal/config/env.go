package config

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// envOverrides holds the secrets that may come from the environment instead
// of the config file. Variable names carry the DAILYTASK_ prefix, e.g.
// DAILYTASK_BILLING_PASSWORD.
type envOverrides struct {
	BillingAccount      string `envconfig:"BILLING_ACCOUNT"`
	BillingPassword     string `envconfig:"BILLING_PASSWORD"`
	AttendanceAppSecret string `envconfig:"ATTENDANCE_APP_SECRET"`
	AttendanceLoginID   string `envconfig:"ATTENDANCE_LOGIN_ID"`
	NtfyUsername        string `envconfig:"NTFY_USERNAME"`
	NtfyPassword        string `envconfig:"NTFY_PASSWORD"`
	ServerToken         string `envconfig:"SERVER_TOKEN"`
	TelegramToken       string `envconfig:"TELEGRAM_TOKEN"`
}

// applyEnv layers environment overrides on top of the parsed file. A .env
// file in the working directory is honored when present; a missing one is
// not an error.
func applyEnv(cfg *Config) error {
	_ = godotenv.Load()

	var ov envOverrides
	if err := envconfig.Process("dailytask", &ov); err != nil {
		return err
	}

	if ov.BillingAccount != "" {
		cfg.Billing.Account = ov.BillingAccount
	}
	if ov.BillingPassword != "" {
		cfg.Billing.Password = ov.BillingPassword
	}
	if ov.AttendanceAppSecret != "" {
		cfg.Attendance.AppSecret = ov.AttendanceAppSecret
	}
	if ov.AttendanceLoginID != "" {
		cfg.Attendance.LoginID = ov.AttendanceLoginID
	}
	if ov.NtfyUsername != "" {
		cfg.Ntfy.Username = ov.NtfyUsername
	}
	if ov.NtfyPassword != "" {
		cfg.Ntfy.Password = ov.NtfyPassword
	}
	if ov.ServerToken != "" {
		cfg.Server.Token = ov.ServerToken
	}
	if ov.TelegramToken != "" && cfg.Telegram != nil {
		cfg.Telegram.Token = ov.TelegramToken
	}
	return nil
}
