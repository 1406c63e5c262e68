package task

import (
	"fmt"
	"strings"

	"dailytask/internal/attendance"
	"dailytask/internal/billing"
)

const timeLayout = "2006-01-02 15:04:05"

func formatBillMessage(b billing.Bill, balance string) string {
	return fmt.Sprintf(
		"结算时间: %s\n用电量: %s度\n单价: %s × %s\n小计: %s\n余额: %s",
		b.SettledAt().Format(timeLayout),
		b.AvgUsing, b.UnitPrice, b.Rate, b.Fee, balance,
	)
}

// formatPunchMessage renders the start punch line and, once the end punch
// exists, the end punch line. 正常 (normal) and 休息 (rest) both count as a
// good outcome.
func formatPunchMessage(p attendance.PunchSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "💤：%s %s %s", p.StartTime(), p.StartStatus(), statusEmoji(p.StartStatus()))
	if p.EndTime() != "" {
		fmt.Fprintf(&b, "\n🎉：%s %s %s", p.EndTime(), p.EndStatus(), statusEmoji(p.EndStatus()))
	}
	return b.String()
}

func statusEmoji(status string) string {
	switch status {
	case "正常", "休息":
		return "✅"
	default:
		return "❌"
	}
}
