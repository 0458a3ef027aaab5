package tasker

import (
	"fmt"
	"time"

	"github.com/erezf1/WhatsTasker-sub000/internal/domain"
)

// requireString extracts a non-empty string from args by key.
func requireString(args map[string]any, key string) (string, error) {
	v, _ := args[key].(string)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

// optionalString extracts a string from args by key, empty when absent.
func optionalString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// optionalBool extracts a bool from args by key.
func optionalBool(args map[string]any, key string) (bool, bool) {
	v, ok := args[key].(bool)
	return v, ok
}

// validDate checks YYYY-MM-DD.
func validDate(s string) error {
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD, got %q", s)
	}
	return nil
}

// validClock checks HH:MM.
func validClock(s string) error {
	if _, err := time.Parse("15:04", s); err != nil {
		return fmt.Errorf("time must be HH:MM, got %q", s)
	}
	return nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// calWindow builds the RFC 3339 calendar window for a date, clock time, and
// duration in the user's zone. Items without a clock time stay off the
// calendar, so ok is false for them.
func calWindow(tz, date, clock, duration string) (string, string, bool) {
	if date == "" || clock == "" {
		return "", "", false
	}
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" {
		loc = time.UTC
	}
	start, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, loc)
	if err != nil {
		return "", "", false
	}
	minutes, ok := domain.ParseDurationMinutes(duration)
	if !ok || minutes <= 0 {
		minutes = 60
	}
	end := start.Add(time.Duration(minutes) * time.Minute)
	return start.Format(time.RFC3339), end.Format(time.RFC3339), true
}
