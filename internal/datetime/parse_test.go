package datetime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	tests := []struct {
		name string
		in   string
		loc  *time.Location
		want time.Time
	}{
		{"rfc3339 utc", "2024-03-01T10:00:00Z", time.UTC, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"rfc3339 offset", "2024-03-01T10:00:00+02:00", time.UTC, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)},
		{"naive in location", "2024-03-01 10:00:00", berlin, time.Date(2024, 3, 1, 10, 0, 0, 0, berlin)},
		{"date only", "2024-03-01", time.UTC, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"ics utc", "20240301T100000Z", time.UTC, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"ics date", "20240301", time.UTC, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"epoch seconds", "1709287200", time.UTC, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"nil location", "2024-03-01T10:00", nil, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in, tt.loc)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestParseRejects(t *testing.T) {
	_, err := Parse("   ", time.UTC)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = Parse("next tuesday", time.UTC)
	assert.Error(t, err)
}

func TestLoadLocationFallsBack(t *testing.T) {
	assert.Equal(t, time.UTC, LoadLocation("", nil))
	assert.Equal(t, time.UTC, LoadLocation("Not/AZone", time.UTC))
	assert.Equal(t, "Europe/Berlin", LoadLocation("Europe/Berlin", time.UTC).String())
}
