package redis

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

func joinKey(prefix string, parts ...string) string {
	segments := make([]string, 0, len(parts)+1)
	if p := strings.TrimSpace(prefix); p != "" {
		segments = append(segments, p)
	}
	for _, part := range parts {
		segments = append(segments, strings.TrimSpace(part))
	}
	return strings.Join(segments, ":")
}

func formatNanos(at time.Time) string {
	return strconv.FormatInt(at.UnixNano(), 10)
}

func parseNanos(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return time.Unix(0, v).UTC(), nil
}
