package monitor

import (
	"fmt"
	"time"

	"github.com/rokoss21/IOSM/internal/orchestrator"
)

// FormatIndex formats an IOSM-Index with three decimals.
func FormatIndex(index float64) string {
	return fmt.Sprintf("%.3f", index)
}

// FormatPercentage formats a ratio (0-1) as percentage
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatDelta formats the change between two indices with an explicit sign.
func FormatDelta(delta float64) string {
	if delta >= 0 {
		return fmt.Sprintf("+%.3f", delta)
	}
	return fmt.Sprintf("%.3f", delta)
}

// FormatDecision renders a verdict and its reason as "stop (threshold)".
func FormatDecision(verdict orchestrator.Verdict, reason orchestrator.StopReason) string {
	if verdict == "" {
		return "-"
	}
	if reason == "" {
		return string(verdict)
	}
	return fmt.Sprintf("%s (%s)", verdict, reason)
}

// FormatDuration formats a duration as "Xh Ym", "Xm Ys" or "Xs".
func FormatDuration(d time.Duration) string {
	seconds := int64(d.Round(time.Second) / time.Second)
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}
