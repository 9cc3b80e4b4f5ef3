package internal

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// GroupFailed reports whether failed out of total nodes exceeds the tolerated percentage.
func GroupFailed(failed, total, tolerance int) bool {
	if total <= 0 {
		return false
	}
	return failed*100 > tolerance*total
}

// ToleratedFailures is the largest number of failed nodes a group of total nodes survives.
func ToleratedFailures(total, tolerance int) int {
	if total <= 0 || tolerance <= 0 {
		return 0
	}
	return min(total*tolerance/100, total)
}

// Amount resolves a concurrency amount, either absolute ("3", 3) or relative to total ("50%").
// Relative amounts are rounded down but never below 1. Zero means unlimited.
func Amount(amount any, total int) (int, error) {
	switch v := amount.(type) {
	case nil:
		return 0, nil
	case int:
		return absolute(v)
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("amount must be an integer, got %v", v)
		}
		return absolute(int(v))
	case string:
		s := strings.TrimSpace(v)
		if percent, ok := strings.CutSuffix(s, "%"); ok {
			p, err := strconv.Atoi(strings.TrimSpace(percent))
			if err != nil || p < 0 || p > 100 {
				return 0, fmt.Errorf("invalid percentage '%s'", v)
			}
			if p == 0 || total == 0 {
				return 0, nil
			}
			return max(total*p/100, 1), nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("invalid amount '%s'", v)
		}
		return absolute(n)
	default:
		return 0, fmt.Errorf("invalid amount type %T", amount)
	}
}

func absolute(n int) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("amount must not be negative, got %d", n)
	}
	return n, nil
}

// Progress is the integer percentage of finished over total, 100 for an empty total.
func Progress(finished, total int) int {
	if total <= 0 {
		return 100
	}
	return min(finished*100/total, 100)
}
