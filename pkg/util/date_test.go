package util

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTime(t *testing.T) {
	ref := time.Date(2023, 7, 1, 12, 0, 0, 250*int(time.Millisecond), time.UTC)

	tests := []struct {
		name string
		in   string
		want time.Time
		ok   bool
	}{
		{"rfc3339", "2023-07-01T12:00:00Z", ref.Truncate(time.Second), true},
		{"rfc3339 with millis", "2023-07-01T12:00:00.250Z", ref, true},
		{"rfc3339 with offset", "2023-07-01T14:00:00+02:00", ref.Truncate(time.Second), true},
		{"unix seconds", strconv.FormatInt(ref.Unix(), 10), ref.Truncate(time.Second), true},
		{"unix millis", strconv.FormatInt(ref.UnixMilli(), 10), ref, true},
		{"empty", "", time.Time{}, false},
		{"negative", "-5", time.Time{}, false},
		{"garbage", "yesterday", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTime(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %v", got)
			}
		})
	}
}

func TestParseRange(t *testing.T) {
	now := time.Date(2023, 7, 1, 12, 0, 0, 0, time.UTC)

	from, to := ParseRange("", "", time.Hour, now)
	assert.Equal(t, now, to)
	assert.Equal(t, now.Add(-time.Hour), from)

	from, to = ParseRange("2023-07-01T00:00:00Z", "2023-07-01T06:00:00Z", time.Hour, now)
	assert.Equal(t, 0, from.Hour())
	assert.Equal(t, 6, to.Hour())

	from, to = ParseRange("", "2023-07-01T06:00:00Z", 2*time.Hour, now)
	assert.Equal(t, 4, from.Hour())
	assert.Equal(t, time.UTC, to.Location())
}
