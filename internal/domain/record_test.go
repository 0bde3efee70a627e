package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nilszeilon/keystr/internal/domain"
)

func TestDateOfUsesLocalCalendar(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 10, 7, 23, 59, 59, 0, time.Local)
	require.Equal(t, domain.Date("2025-10-07"), domain.DateOf(ts))
	require.Equal(t, domain.Date("2025-10-08"), domain.DateOf(ts.Add(time.Second)))
}

func TestParseDate(t *testing.T) {
	t.Parallel()

	d, err := domain.ParseDate("2024-02-29")
	require.NoError(t, err)
	require.Equal(t, domain.Date("2024-02-29"), d)

	for _, bad := range []string{"", "2023-02-29", "2025-1-07", "yesterday", "2025-10-07T00:00:00Z"} {
		_, err := domain.ParseDate(bad)
		require.Error(t, err, bad)
	}
}

func TestAddDaysCrossesMonthAndYear(t *testing.T) {
	t.Parallel()

	require.Equal(t, domain.Date("2025-01-01"), domain.Date("2024-12-31").AddDays(1))
	require.Equal(t, domain.Date("2025-02-26"), domain.Date("2025-03-05").AddDays(-7))
	require.Equal(t, domain.Date("2024-02-29"), domain.Date("2024-03-01").AddDays(-1))
}

func TestRecordWindows(t *testing.T) {
	t.Parallel()

	rec := domain.Record{
		Total: 1111,
		Daily: map[domain.Date]uint64{
			"2025-10-07": 1,
			"2025-10-01": 10,  // 7th day back, still in the week
			"2025-09-30": 100, // outside the week, inside the month
			"2025-09-07": 1000,
		},
	}
	require.NoError(t, rec.Validate())

	ref := domain.Date("2025-10-07")
	require.EqualValues(t, 11, rec.Weekly(ref))
	require.EqualValues(t, 111, rec.Monthly(ref))
	require.EqualValues(t, 1111, rec.Window(ref, 31))
	require.EqualValues(t, 0, rec.Window(ref, 0))

	// A window with no data sums to zero.
	require.EqualValues(t, 0, rec.Weekly("2026-01-01"))
	require.EqualValues(t, 0, domain.NewRecord().Monthly(ref))
}

func TestRecordSeriesIncludesEmptyDays(t *testing.T) {
	t.Parallel()

	rec := domain.Record{Total: 5, Daily: map[domain.Date]uint64{"2025-10-05": 5}}
	series := rec.Series("2025-10-07", 3)
	require.Equal(t, []domain.DayCount{
		{Date: "2025-10-05", Count: 5},
		{Date: "2025-10-06", Count: 0},
		{Date: "2025-10-07", Count: 0},
	}, series)
}

func TestRecordDaysNewestFirst(t *testing.T) {
	t.Parallel()

	rec := domain.Record{Total: 6, Daily: map[domain.Date]uint64{
		"2025-10-01": 1,
		"2025-10-07": 2,
		"2025-09-15": 3,
	}}
	days := rec.Days()
	require.Len(t, days, 3)
	require.Equal(t, domain.Date("2025-10-07"), days[0].Date)
	require.Equal(t, domain.Date("2025-09-15"), days[2].Date)
}

func TestRecordValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, domain.NewRecord().Validate())
	require.Error(t, domain.Record{Total: 2, Daily: map[domain.Date]uint64{"2025-10-07": 1}}.Validate())
	require.Error(t, domain.Record{Total: 1, Daily: map[domain.Date]uint64{"10/07/2025": 1}}.Validate())
}

func TestRecordCloneIsDeep(t *testing.T) {
	t.Parallel()

	rec := domain.Record{Total: 1, Daily: map[domain.Date]uint64{"2025-10-07": 1}}
	c := rec.Clone()
	c.Daily["2025-10-07"]++
	require.EqualValues(t, 1, rec.Daily["2025-10-07"])
}
