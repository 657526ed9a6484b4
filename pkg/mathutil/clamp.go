// Package mathutil holds small numeric helpers.
package mathutil

// ClampInt clamps value to [lo, hi].
func ClampInt(value, lo, hi int) int {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// ClampLimit validates a pagination limit. A non-positive limit becomes
// defaultVal and anything above maxVal becomes maxVal.
func ClampLimit(limit, defaultVal, maxVal int) int {
	if limit <= 0 {
		return defaultVal
	}
	return min(limit, maxVal)
}
