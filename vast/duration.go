package vast

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a VAST time value in the format HH:MM:SS or HH:MM:SS.mmm
// (.mmm is milliseconds).
type Duration time.Duration

// ParseDuration parses HH:MM:SS or HH:MM:SS.mmm.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, fmt.Errorf("invalid duration hours: %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid duration minutes: %q", s)
	}
	secPart := parts[2]
	ms := 0
	if i := strings.IndexByte(secPart, '.'); i >= 0 {
		frac := secPart[i+1:]
		secPart = secPart[:i]
		if len(frac) != 3 {
			return 0, fmt.Errorf("invalid duration milliseconds: %q", s)
		}
		ms, err = strconv.Atoi(frac)
		if err != nil || ms < 0 {
			return 0, fmt.Errorf("invalid duration milliseconds: %q", s)
		}
	}
	sec, err := strconv.Atoi(secPart)
	if err != nil || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("invalid duration seconds: %q", s)
	}
	d := time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(sec)*time.Second +
		time.Duration(ms)*time.Millisecond
	return Duration(d), nil
}

// Seconds returns the duration as whole seconds, rounding half to even so
// that 30.500 rounds to 30 and 31.500 rounds to 32.
func (d Duration) Seconds() int {
	ms := time.Duration(d).Milliseconds()
	sec := ms / 1000
	switch rem := ms % 1000; {
	case rem > 500:
		sec++
	case rem == 500 && sec%2 != 0:
		sec++
	}
	return int(sec)
}

func (d Duration) String() string {
	td := time.Duration(d)
	h := td / time.Hour
	td -= h * time.Hour
	m := td / time.Minute
	td -= m * time.Minute
	s := td / time.Second
	td -= s * time.Second
	ms := td / time.Millisecond
	if ms == 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty value leaves
// the duration at zero: many real-world wrappers omit Duration entirely.
func (d *Duration) UnmarshalText(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
