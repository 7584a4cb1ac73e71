package scheduler

import (
	"strconv"
	"strings"
	"time"
)

// ParseInterval 接受 K 线周期写法（30s/15m/4h/1d/1w），
// 其余交给 time.ParseDuration（如 "1h30m"）。非正值视为无效。
func ParseInterval(raw string) (time.Duration, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if len(s) < 2 {
		return 0, false
	}
	var unit time.Duration
	switch s[len(s)-1] {
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	}
	if unit > 0 {
		n, err := strconv.Atoi(s[:len(s)-1])
		if err != nil || n <= 0 {
			return 0, false
		}
		return time.Duration(n) * unit, true
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
