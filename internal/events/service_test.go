package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dance-app/api-sub000/internal/apperrors"
	"github.com/dance-app/api-sub000/internal/models"
	"github.com/dance-app/api-sub000/internal/recurrence"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestService(store Store) *Service {
	return NewService(store, recurrence.NewExpander(recurrence.DefaultHorizon), nil,
		WithClock(func() time.Time { return fixedNow }))
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func weeklyMondayInput() CreateInput {
	start := time.Date(2025, 7, 1, 19, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Minute)
	return CreateInput{
		WorkspaceID: uuid.New(),
		CreatedByID: uuid.New(),
		Name:        "Salsa Level 1",
		DateStart:   start,
		DateEnd:     &end,
		Location:    "Studio A",
		CapacityMax: intPtr(20),
		RRule:       strPtr("FREQ=WEEKLY;BYDAY=MO;COUNT=10"),
	}
}

func TestService_CreateWeeklySeries(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)

	series, err := svc.Create(context.Background(), weeklyMondayInput())
	require.NoError(t, err)

	require.Len(t, series.Children, 9)
	assert.Equal(t, 10, store.count())
	assert.True(t, series.Parent.IsSeriesParent())
	assert.Equal(t, models.VisibilityWorkspaceOnly, series.Parent.Visibility)
	assert.Equal(t, models.DefaultTimezone, series.Parent.Timezone)
	assert.Contains(t, series.Parent.OrganizerIDs, series.Parent.CreatedByID)

	for i, child := range series.Children {
		assert.Equal(t, time.Monday, child.DateStart.Weekday(), "child %d", i)
		assert.Equal(t, 19, child.DateStart.Hour())
		assert.Equal(t, 90*time.Minute, child.Duration())
		assert.Nil(t, child.RRule)
		require.NotNil(t, child.ParentEventID)
		assert.Equal(t, series.Parent.ID, *child.ParentEventID)
		assert.Equal(t, "Studio A", child.Location)
		assert.Equal(t, series.Parent.OrganizerIDs, child.OrganizerIDs)
	}
	assert.Equal(t, time.Date(2025, 7, 7, 19, 0, 0, 0, time.UTC), series.Children[0].DateStart)
	assert.Equal(t, time.Date(2025, 9, 1, 19, 0, 0, 0, time.UTC), series.Children[8].DateStart)
}

func TestService_CreateCountOneKeepsRule(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	in := weeklyMondayInput()
	in.RRule = strPtr("FREQ=DAILY;COUNT=1")

	series, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, series.Children)
	require.NotNil(t, series.Parent.RRule)
	assert.Equal(t, "FREQ=DAILY;COUNT=1", *series.Parent.RRule)
}

func TestService_CreateValidation(t *testing.T) {
	cases := map[string]func(*CreateInput){
		"missing name":      func(in *CreateInput) { in.Name = "  " },
		"missing start":     func(in *CreateInput) { in.DateStart = time.Time{} },
		"inverted dates":    func(in *CreateInput) { e := in.DateStart.Add(-time.Hour); in.DateEnd = &e },
		"equal dates":       func(in *CreateInput) { e := in.DateStart; in.DateEnd = &e },
		"inverted capacity": func(in *CreateInput) { in.CapacityMin = intPtr(10); in.CapacityMax = intPtr(5) },
		"negative capacity": func(in *CreateInput) { in.CapacityMin = intPtr(-1) },
		"bad visibility":    func(in *CreateInput) { in.Visibility = "FRIENDS" },
		"bad timezone":      func(in *CreateInput) { in.Timezone = "Mars/Olympus" },
		"bad rule":          func(in *CreateInput) { in.RRule = strPtr("FREQ=WEEKLY;BYDAY=XX") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			store := newMemStore()
			in := weeklyMondayInput()
			mutate(&in)

			_, err := newTestService(store).Create(context.Background(), in)
			assert.True(t, apperrors.IsValidation(err), "got %v", err)
			assert.Zero(t, store.count())
		})
	}
}

func TestService_CreateIsAtomic(t *testing.T) {
	store := newMemStore()
	store.failCreateAfter = 5

	_, err := newTestService(store).Create(context.Background(), weeklyMondayInput())
	require.ErrorIs(t, err, errInjected)
	assert.Zero(t, store.count(), "no partial series may remain")
}

func TestService_UpdateParentCascadesNonTemporalFields(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()
	series, err := svc.Create(ctx, weeklyMondayInput())
	require.NoError(t, err)

	newOrganizer := uuid.New()
	movedStart := series.Parent.DateStart.Add(2 * time.Hour)
	movedEnd := movedStart.Add(time.Hour)
	res, err := svc.Update(ctx, series.Parent.ID, UpdateInput{
		Location:        strPtr("Studio B"),
		CapacityMax:     intPtr(30),
		DateStart:       &movedStart,
		DateEnd:         &movedEnd,
		AddOrganizerIDs: []uuid.UUID{newOrganizer},
	})
	require.NoError(t, err)
	assert.Equal(t, 9, res.Cascaded)
	assert.Equal(t, movedStart, res.Event.DateStart)

	for _, before := range series.Children {
		after, err := svc.Get(ctx, before.ID)
		require.NoError(t, err)
		assert.Equal(t, "Studio B", after.Location)
		assert.Equal(t, 30, *after.CapacityMax)
		assert.True(t, after.IsOrganizer(newOrganizer))
		assert.Equal(t, before.DateStart, after.DateStart, "children keep their expanded dates")
		assert.Equal(t, before.DateEnd, after.DateEnd)
	}
}

func TestService_UpdateChildTouchesOnlyThatOccurrence(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()
	series, err := svc.Create(ctx, weeklyMondayInput())
	require.NoError(t, err)

	target := series.Children[4]
	res, err := svc.Update(ctx, target.ID, UpdateInput{Name: strPtr("Salsa Social")})
	require.NoError(t, err)
	assert.Zero(t, res.Cascaded)

	occ, err := svc.Occurrences(ctx, series.Parent.ID)
	require.NoError(t, err)
	for _, ev := range occ {
		if ev.ID == target.ID {
			assert.Equal(t, "Salsa Social", ev.Name)
			continue
		}
		assert.Equal(t, "Salsa Level 1", ev.Name)
	}
}

func TestService_UpdateCascadeRollsBack(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()
	series, err := svc.Create(ctx, weeklyMondayInput())
	require.NoError(t, err)
	store.failUpdateOn = series.Children[6].ID

	_, err = svc.Update(ctx, series.Parent.ID, UpdateInput{Location: strPtr("Studio C")})
	require.Error(t, err)

	occ, err := svc.Occurrences(ctx, series.Children[0].ID)
	require.NoError(t, err)
	for _, ev := range occ {
		assert.Equal(t, "Studio A", ev.Location)
	}
}

func TestService_UpdateRejectsInvertedBounds(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()
	series, err := svc.Create(ctx, weeklyMondayInput())
	require.NoError(t, err)

	_, err = svc.Update(ctx, series.Parent.ID, UpdateInput{CapacityMin: intPtr(25)})
	assert.True(t, apperrors.IsValidation(err))
}

func TestService_UpdateCascadeChecksChildBounds(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()
	series, err := svc.Create(ctx, weeklyMondayInput())
	require.NoError(t, err)
	child := series.Children[3]
	_, err = svc.Update(ctx, child.ID, UpdateInput{CapacityMin: intPtr(10)})
	require.NoError(t, err)

	_, err = svc.Update(ctx, series.Parent.ID, UpdateInput{CapacityMax: intPtr(5), Location: strPtr("Studio C")})
	require.True(t, apperrors.IsValidation(err), "got %v", err)
	var verr *apperrors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, child.ID.String(), verr.Token)

	occ, err := svc.Occurrences(ctx, series.Parent.ID)
	require.NoError(t, err)
	for _, ev := range occ {
		assert.Equal(t, 20, *ev.CapacityMax, "nothing written")
		assert.Equal(t, "Studio A", ev.Location)
	}
}

func TestService_ScenarioUpdateThenCancelOneChild(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()
	series, err := svc.Create(ctx, weeklyMondayInput())
	require.NoError(t, err)

	_, err = svc.Update(ctx, series.Parent.ID, UpdateInput{Location: strPtr("Ballroom")})
	require.NoError(t, err)

	third := series.Children[2]
	res, err := svc.Cancel(ctx, third.ID, CancelInput{Reason: strPtr("teacher sick")})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{third.ID}, res.CancelledIDs)
	assert.Equal(t, fixedNow, res.CancelledAt)

	occ, err := svc.Occurrences(ctx, series.Parent.ID)
	require.NoError(t, err)
	require.Len(t, occ, 10)
	for _, ev := range occ {
		assert.Equal(t, "Ballroom", ev.Location)
		if ev.ID == third.ID {
			assert.True(t, ev.IsCancelled)
			require.NotNil(t, ev.CancellationReason)
			assert.Equal(t, "teacher sick", *ev.CancellationReason)
			assert.Equal(t, fixedNow, *ev.CancelledAt)
			continue
		}
		assert.False(t, ev.IsCancelled)
	}

	// later cascades skip the cancelled child
	upd, err := svc.Update(ctx, series.Parent.ID, UpdateInput{Description: strPtr("bring water")})
	require.NoError(t, err)
	assert.Equal(t, 8, upd.Cascaded)
	cancelled, err := svc.Get(ctx, third.ID)
	require.NoError(t, err)
	assert.Empty(t, cancelled.Description)
}

func TestService_CancelIsTerminal(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()
	series, err := svc.Create(ctx, weeklyMondayInput())
	require.NoError(t, err)
	id := series.Children[0].ID

	_, err = svc.Cancel(ctx, id, CancelInput{})
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, id, CancelInput{})
	assert.True(t, apperrors.IsConflict(err))
	assert.True(t, errors.Is(err, ErrEventCancelled))

	_, err = svc.Update(ctx, id, UpdateInput{Name: strPtr("again")})
	assert.True(t, errors.Is(err, ErrEventCancelled))
}

func TestService_CancelWholeSeries(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()
	series, err := svc.Create(ctx, weeklyMondayInput())
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, series.Children[1].ID, CancelInput{})
	require.NoError(t, err)

	res, err := svc.Cancel(ctx, series.Children[5].ID, CancelInput{Series: true, Reason: strPtr("  studio closed ")})
	require.NoError(t, err)
	assert.Len(t, res.CancelledIDs, 9, "already cancelled child is skipped")

	occ, err := svc.Occurrences(ctx, series.Parent.ID)
	require.NoError(t, err)
	for _, ev := range occ {
		assert.True(t, ev.IsCancelled)
	}
	parent, err := svc.Get(ctx, series.Parent.ID)
	require.NoError(t, err)
	assert.Equal(t, "studio closed", *parent.CancellationReason)
}

func TestService_GetSeriesStandalone(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()
	in := weeklyMondayInput()
	in.RRule = nil
	series, err := svc.Create(ctx, in)
	require.NoError(t, err)

	got, err := svc.GetSeries(ctx, series.Parent.ID)
	require.NoError(t, err)
	assert.Equal(t, series.Parent.ID, got.Parent.ID)
	assert.Empty(t, got.Children)
}

func TestService_GetSeriesFromChild(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()
	series, err := svc.Create(ctx, weeklyMondayInput())
	require.NoError(t, err)

	got, err := svc.GetSeries(ctx, series.Children[3].ID)
	require.NoError(t, err)
	assert.Equal(t, series.Parent.ID, got.Parent.ID)
	assert.Len(t, got.Children, 9)
}

func TestService_GetUnknown(t *testing.T) {
	_, err := newTestService(newMemStore()).Get(context.Background(), uuid.New())
	assert.True(t, apperrors.IsNotFound(err))
}

func TestService_ListValidatesFilter(t *testing.T) {
	_, err := newTestService(newMemStore()).List(context.Background(), Filter{Limit: -3})
	assert.True(t, apperrors.IsValidation(err))
}
