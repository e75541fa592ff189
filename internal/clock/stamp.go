package clock

import (
	"fmt"
	"strconv"
)

// Stamp is an ISO8601 timestamp split into the parts the UI and logs
// consume, e.g. "2019-06-08T13:52:53+0200".
type Stamp struct {
	Date string // "2019-06-08"
	Time string // "13:52"

	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int
}

// stampLen covers date, 'T' separator and "HH:MM:SS".
const stampLen = 19

// ParseStamp splits a fixed-layout ISO8601 string. The zone suffix,
// when present, is ignored.
func ParseStamp(s string) (Stamp, error) {
	if len(s) < stampLen {
		return Stamp{}, fmt.Errorf("parse stamp %q: need at least %d characters", s, stampLen)
	}

	st := Stamp{Date: s[0:10], Time: s[11:16]}

	fields := []struct {
		name string
		text string
		dst  *int
	}{
		{"year", s[0:4], &st.Year},
		{"month", s[5:7], &st.Month},
		{"day", s[8:10], &st.Day},
		{"hour", s[11:13], &st.Hour},
		{"minute", s[14:16], &st.Minute},
		{"second", s[17:19], &st.Second},
	}
	for _, f := range fields {
		v, err := strconv.Atoi(f.text)
		if err != nil {
			return Stamp{}, fmt.Errorf("parse stamp %q: %s: %w", s, f.name, err)
		}
		*f.dst = v
	}
	return st, nil
}
