package calendar

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	t.Parallel()

	t.Run("round trips", func(t *testing.T) {
		t.Parallel()
		for _, value := range []string{"2025-01-15", "2024-02-29", "1999-12-31"} {
			d, err := ParseDate(value)
			require.NoError(t, err)
			assert.Equal(t, value, d.String())
		}
	})

	t.Run("rejects malformed and impossible dates", func(t *testing.T) {
		t.Parallel()
		for _, value := range []string{"", "2025-1-15", "2025-02-30", "15/01/2025", "2025-01-15T00:00:00Z", "abcd-ef-gh"} {
			_, err := ParseDate(value)
			assert.ErrorIs(t, err, ErrInvalidDate, value)
		}
	})

	t.Run("json uses text form", func(t *testing.T) {
		t.Parallel()
		var payload struct {
			Date Date `json:"date"`
		}
		require.NoError(t, json.Unmarshal([]byte(`{"date":"2025-03-09"}`), &payload))
		assert.Equal(t, Date{Year: 2025, Month: time.March, Day: 9}, payload.Date)

		out, err := json.Marshal(payload)
		require.NoError(t, err)
		assert.JSONEq(t, `{"date":"2025-03-09"}`, string(out))
	})
}

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()

	cases := map[string]int{
		"00:00":    0,
		"09:00":    9 * 60,
		"12:30":    12*60 + 30,
		"23:59":    23*60 + 59,
		"09:15:00": 9*60 + 15,
	}
	for value, minutes := range cases {
		got, err := ParseTimeOfDay(value)
		require.NoError(t, err, value)
		assert.Equal(t, minutes, got.Minutes(), value)
	}

	for _, value := range []string{"", "9:00", "24:00", "12:60", "12:00:30", "1200", "ab:cd", "+1:00"} {
		_, err := ParseTimeOfDay(value)
		assert.ErrorIs(t, err, ErrInvalidTime, value)
	}
}

func TestTimeOfDayAdd(t *testing.T) {
	t.Parallel()

	start := MustParseTimeOfDay("22:00")
	next, ok := start.Add(time.Hour)
	require.True(t, ok)
	assert.Equal(t, "23:00", next.String())

	end, ok := next.Add(time.Hour)
	require.True(t, ok)
	assert.Equal(t, MinutesPerDay, end.Minutes())

	_, ok = end.Add(time.Minute)
	assert.False(t, ok)
}

func TestTimeOfDayOn(t *testing.T) {
	t.Parallel()

	at := MustParseTimeOfDay("09:30").On(MustParseDate("2025-01-15"))
	assert.Equal(t, time.Date(2025, time.January, 15, 9, 30, 0, 0, time.UTC), at)
}
