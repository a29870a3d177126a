package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dance-app/api-sub000/internal/apperrors"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestExpand_WeeklyMondaysScenario(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, time.July, 1, 19, 0, 0, 0, time.UTC)
	base := Base{Start: start, End: timePtr(start.Add(90 * time.Minute))}

	got, err := NewExpander(DefaultHorizon).Expand(base, "FREQ=WEEKLY;BYDAY=MO;COUNT=10")
	require.NoError(t, err)
	require.Len(t, got, 9)

	assert.Equal(t, time.Date(2025, time.July, 7, 19, 0, 0, 0, time.UTC), got[0].Start)
	assert.Equal(t, time.Date(2025, time.September, 1, 19, 0, 0, 0, time.UTC), got[8].Start)
	for i, occ := range got {
		assert.Equal(t, time.Monday, occ.Start.Weekday(), "child %d", i)
		assert.Equal(t, 19, occ.Start.Hour(), "child %d", i)
		require.NotNil(t, occ.End)
		assert.Equal(t, 90*time.Minute, occ.End.Sub(occ.Start), "child %d", i)
		if i > 0 {
			assert.True(t, occ.Start.After(got[i-1].Start), "ascending order at %d", i)
		}
	}
}

func TestExpand_CountIncludesParent(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, time.March, 3, 18, 30, 0, 0, time.UTC) // Monday
	tests := []struct {
		rule string
		want int
	}{
		{"FREQ=WEEKLY;COUNT=10", 9},
		{"FREQ=DAILY;COUNT=3", 2},
		{"FREQ=WEEKLY;BYDAY=MO;COUNT=4", 3},
		{"RRULE:FREQ=WEEKLY;INTERVAL=2;COUNT=5", 4},
		{"freq=weekly;count=2", 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.rule, func(t *testing.T) {
			t.Parallel()
			got, err := NewExpander(DefaultHorizon).Expand(Base{Start: start}, tt.rule)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestExpand_CountOneYieldsNoChildren(t *testing.T) {
	t.Parallel()

	got, err := NewExpander(DefaultHorizon).Expand(Base{Start: time.Now().UTC()}, "FREQ=DAILY;COUNT=1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExpand_Deterministic(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, time.January, 15, 20, 0, 0, 0, time.UTC)
	base := Base{Start: start, End: timePtr(start.Add(time.Hour))}
	e := NewExpander(DefaultHorizon)

	first, err := e.Expand(base, "FREQ=MONTHLY;BYMONTHDAY=15;COUNT=12")
	require.NoError(t, err)
	second, err := e.Expand(base, "FREQ=MONTHLY;BYMONTHDAY=15;COUNT=12")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExpand_Until(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, time.June, 2, 19, 0, 0, 0, time.UTC) // Monday
	got, err := NewExpander(DefaultHorizon).Expand(Base{Start: start}, "FREQ=WEEKLY;UNTIL=20250630T190000Z")
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, time.Date(2025, time.June, 30, 19, 0, 0, 0, time.UTC), got[3].Start)
	assert.Nil(t, got[0].End)
}

func TestExpand_UnboundedRuleTruncatedAtHorizon(t *testing.T) {
	t.Parallel()

	got, err := NewExpander(12).Expand(Base{Start: time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)}, "FREQ=WEEKLY")
	require.NoError(t, err)
	assert.Len(t, got, 11)
}

func TestExpand_KeepsWallClockAcrossDST(t *testing.T) {
	t.Parallel()

	paris, err := LoadLocation("Europe/Paris")
	require.NoError(t, err)
	start := time.Date(2025, time.March, 24, 19, 0, 0, 0, paris) // Monday, before DST change
	base := Base{Start: start, End: timePtr(start.Add(time.Hour)), Location: paris}

	got, err := NewExpander(DefaultHorizon).Expand(base, "FREQ=WEEKLY;COUNT=3")
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, occ := range got {
		local := occ.Start.In(paris)
		assert.Equal(t, 19, local.Hour())
		assert.Equal(t, time.UTC, occ.Start.Location())
		assert.Equal(t, time.Hour, occ.End.Sub(occ.Start))
	}
}

func TestExpand_MalformedRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		rule  string
		token string
	}{
		{"unknown part", "FREQ=WEEKLY;BOGUS=1", "BOGUS=1"},
		{"missing value", "FREQ=WEEKLY;COUNT", "COUNT"},
		{"zero count", "FREQ=WEEKLY;COUNT=0", "COUNT=0"},
		{"non numeric interval", "FREQ=WEEKLY;INTERVAL=x", "INTERVAL=X"},
		{"bad frequency", "FREQ=SOMETIMES", "FREQ=SOMETIMES"},
		{"bad weekday", "FREQ=WEEKLY;BYDAY=XX", "BYDAY=XX"},
		{"duplicate part", "FREQ=WEEKLY;FREQ=DAILY", "FREQ=DAILY"},
		{"count above horizon", "FREQ=DAILY;COUNT=500", "COUNT=500"},
		{"count and until", "FREQ=DAILY;COUNT=3;UNTIL=20250101T000000Z", "UNTIL=20250101T000000Z"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewExpander(DefaultHorizon).Expand(Base{Start: time.Now()}, tt.rule)
			require.Error(t, err)
			var vErr *apperrors.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, "rrule", vErr.Field)
			assert.Equal(t, tt.token, vErr.Token)
		})
	}
}

func TestValidate_MissingFreq(t *testing.T) {
	t.Parallel()

	err := NewExpander(DefaultHorizon).Validate("BYDAY=MO;COUNT=3")
	assert.True(t, apperrors.IsValidation(err))
	assert.NoError(t, NewExpander(DefaultHorizon).Validate("FREQ=WEEKLY;BYDAY=MO,WE"))
}

func TestLoadLocation(t *testing.T) {
	t.Parallel()

	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = LoadLocation("Mars/Olympus_Mons")
	assert.True(t, apperrors.IsValidation(err))
}
