package autotune

import (
	"fmt"
	"strconv"
	"time"
)

// parseDuration accepts go durations as well as plain milliseconds
func parseDuration(value string) (time.Duration, error) {
	if ms, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(ms * float64(time.Millisecond)), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration '%s', expected e.g. 3s or 3000", value)
	}
	return d, nil
}
