package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		input   string
		want    Clock
		wantErr bool
	}{
		{"evening", "20:00", Clock{Hour: 20}, false},
		{"early morning", "04:00", Clock{Hour: 4}, false},
		{"with seconds", "23:59:30", Clock{Hour: 23, Minute: 59, Second: 30}, false},
		{"single digit hour", "8:05", Clock{Hour: 8, Minute: 5}, false},
		{"spaces", "  12:30 ", Clock{Hour: 12, Minute: 30}, false},
		{"hour out of range", "24:00", Clock{}, true},
		{"minute out of range", "12:60", Clock{}, true},
		{"second out of range", "12:00:61", Clock{}, true},
		{"missing minute", "12", Clock{}, true},
		{"empty", "", Clock{}, true},
		{"garbage", "noon", Clock{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClock(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClockString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "04:00", Clock{Hour: 4}.String())
	assert.Equal(t, "23:59:30", Clock{Hour: 23, Minute: 59, Second: 30}.String())
}

func TestCalculatorSameDayWindow(t *testing.T) {
	t.Parallel()
	c := New(MustParseClock("09:00"), MustParseClock("17:30"), time.UTC)
	ref := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	start := c.StartOf(ref)
	assert.Equal(t, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 3, 10, 17, 30, 0, 0, time.UTC), c.EndOf(start))
	assert.Equal(t, 8*time.Hour+30*time.Minute, c.Duration(ref))
}

func TestCalculatorCrossesMidnight(t *testing.T) {
	t.Parallel()
	c := New(MustParseClock("20:00"), MustParseClock("04:00"), time.UTC)
	ref := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)

	start := c.StartOf(ref)
	assert.Equal(t, time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 3, 11, 4, 0, 0, 0, time.UTC), c.EndOf(start))
	assert.Equal(t, 8*time.Hour, c.Duration(ref))
}

func TestCalculatorStartOfMayBeAfterReference(t *testing.T) {
	t.Parallel()
	c := New(MustParseClock("20:00"), MustParseClock("04:00"), time.UTC)
	ref := time.Date(2024, 3, 10, 2, 0, 0, 0, time.UTC)
	assert.True(t, c.StartOf(ref).After(ref))
}

func TestCalculatorEqualClocksIsFullDay(t *testing.T) {
	t.Parallel()
	c := New(MustParseClock("06:00"), MustParseClock("06:00"), time.UTC)
	ref := time.Date(2024, 3, 10, 2, 0, 0, 0, time.UTC)
	start := c.StartOf(ref)
	assert.Equal(t, start.Add(Day), c.EndOf(start))
	assert.Equal(t, Day, c.Duration(ref))
}

func TestEndAlwaysAfterStart(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	clocks := []Clock{{Hour: 0}, {Hour: 1, Minute: 30}, {Hour: 4}, {Hour: 12}, {Hour: 20}, {Hour: 23, Minute: 59}}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, loc)
	for _, s := range clocks {
		for _, e := range clocks {
			c := New(s, e, loc)
			// Walk a whole year in 7h steps to hit both DST transitions.
			for ref := base; ref.Year() == 2024; ref = ref.Add(7 * time.Hour) {
				start := c.StartOf(ref)
				end := c.EndOf(start)
				require.Truef(t, end.After(start), "start=%s end=%s clocks=%s-%s", start, end, s, e)
			}
		}
	}
}

func TestContains(t *testing.T) {
	t.Parallel()
	c := New(MustParseClock("20:00"), MustParseClock("04:00"), time.UTC)
	day := func(h, m int) time.Time { return time.Date(2024, 3, 10, h, m, 0, 0, time.UTC) }

	assert.True(t, c.Contains(day(20, 0)))
	assert.True(t, c.Contains(day(23, 59)))
	assert.True(t, c.Contains(day(2, 0)))
	assert.False(t, c.Contains(day(4, 0)))
	assert.False(t, c.Contains(day(10, 0)))
	assert.False(t, c.Contains(day(19, 59)))
}

func TestNextStart(t *testing.T) {
	t.Parallel()
	at := func(d, h, m int) time.Time { return time.Date(2024, 3, d, h, m, 0, 0, time.UTC) }
	overnight := New(MustParseClock("20:00"), MustParseClock("04:00"), time.UTC)
	early := New(MustParseClock("01:00"), MustParseClock("05:00"), time.UTC)

	tests := []struct {
		name string
		c    Calculator
		ref  time.Time
		want time.Time
	}{
		{"overnight window just closed", overnight, at(11, 4, 0), at(11, 20, 0)},
		{"overnight before opening", overnight, at(10, 9, 0), at(10, 20, 0)},
		{"overnight at opening", overnight, at(10, 20, 0), at(11, 20, 0)},
		{"overnight while open", overnight, at(10, 23, 0), at(11, 20, 0)},
		{"same-day window just closed", early, at(10, 5, 0), at(11, 1, 0)},
		{"same-day before opening", early, at(10, 0, 30), at(10, 1, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.c.NextStart(tt.ref)
			assert.Truef(t, got.Equal(tt.want), "got %s want %s", got, tt.want)
		})
	}
}

func TestLoadLocation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input  string
		offset int
	}{
		{"+02:00", 2 * 3600},
		{"-0530", -(5*3600 + 30*60)},
		{"UTC+2", 2 * 3600},
		{"gmt-11", -11 * 3600},
	}
	ref := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		loc, err := LoadLocation(tt.input)
		require.NoError(t, err, tt.input)
		_, off := ref.In(loc).Zone()
		assert.Equal(t, tt.offset, off, tt.input)
	}

	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	_, err = LoadLocation("Mars/Olympus")
	assert.Error(t, err)
	_, err = LoadLocation("+15:00")
	assert.Error(t, err)
}
