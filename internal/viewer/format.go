package viewer

import (
	"fmt"
	"time"
)

// FormatLatency formats latency in seconds as "X.Xms" or "X.Xs"
func FormatLatency(latencySeconds float64) string {
	if latencySeconds < 1.0 {
		return fmt.Sprintf("%.1fms", latencySeconds*1000)
	}
	return fmt.Sprintf("%.1fs", latencySeconds)
}

// FormatElapsed formats a request duration.
func FormatElapsed(d time.Duration) string {
	return FormatLatency(d.Seconds())
}

// FormatPercentage formats a ratio (0-1) as percentage
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatMetric formats an optional quality metric, "n/a" when absent.
func FormatMetric(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return FormatPercentage(*v)
}

// clamp bounds a progress ratio to [0,1].
func clamp(ratio float64) float64 {
	switch {
	case ratio < 0:
		return 0
	case ratio > 1:
		return 1
	}
	return ratio
}
