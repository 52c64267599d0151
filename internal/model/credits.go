package model

import (
	"database/sql/driver"
	"math"
	"strconv"
	"strings"
)

// Credits is an integer counter column. Scanning never fails: values that are
// not numeric (or do not fit in an int64) read as 0.
type Credits int64

func (c *Credits) Scan(src interface{}) error {
	*c = 0
	switch v := src.(type) {
	case nil:
	case int64:
		*c = Credits(v)
	case int32:
		*c = Credits(v)
	case int:
		*c = Credits(v)
	case uint64:
		if v <= math.MaxInt64 {
			*c = Credits(v)
		}
	case float64:
		if !math.IsNaN(v) && !math.IsInf(v, 0) && math.Abs(v) < math.MaxInt64 {
			*c = Credits(math.Trunc(v))
		}
	case []byte:
		*c = parseCredits(string(v))
	case string:
		*c = parseCredits(v)
	}
	return nil
}

func (c Credits) Value() (driver.Value, error) {
	return int64(c), nil
}

func (c Credits) Int64() int64 {
	return int64(c)
}

func parseCredits(s string) Credits {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Credits(n)
	}
	// numeric columns can come back as "123.000"
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) >= math.MaxInt64 {
		return 0
	}
	return Credits(math.Trunc(f))
}
