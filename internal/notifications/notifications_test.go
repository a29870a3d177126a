package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dance-app/api-sub000/internal/apperrors"
	"github.com/dance-app/api-sub000/internal/attendance"
	"github.com/dance-app/api-sub000/internal/middleware"
	"github.com/dance-app/api-sub000/internal/models"
	"github.com/dance-app/api-sub000/pkg/queue"
)

func init() { gin.SetMode(gin.TestMode) }

type memQueue struct {
	jobs []queue.Job
	err  error
}

func (q *memQueue) Enqueue(_ context.Context, jobType queue.JobType, payload any) (*queue.Job, error) {
	if q.err != nil {
		return nil, q.err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	job := queue.Job{ID: uuid.NewString(), Type: jobType, Payload: body}
	q.jobs = append(q.jobs, job)
	return &job, nil
}

func TestQueuePublisher_EnqueuesChange(t *testing.T) {
	q := &memQueue{}
	pub := NewQueuePublisher(q, nil)
	ch := attendance.Change{EventID: uuid.New(), AttendeeID: uuid.New(), HistoryID: 7, Action: models.ActionRegistered}

	require.NoError(t, pub.AttendanceChanged(context.Background(), ch))
	require.Len(t, q.jobs, 1)
	assert.Equal(t, queue.JobTypeAttendanceChanged, q.jobs[0].Type)
	var got attendance.Change
	require.NoError(t, json.Unmarshal(q.jobs[0].Payload, &got))
	assert.Equal(t, ch.AttendeeID, got.AttendeeID)
	assert.Equal(t, int64(7), got.HistoryID)

	q.err = errors.New("redis down")
	assert.ErrorContains(t, pub.AttendanceChanged(context.Background(), ch), "redis down")
}

type stubLogs map[uuid.UUID][]models.NotificationLog

func (s stubLogs) ListByEvent(_ context.Context, id uuid.UUID) ([]models.NotificationLog, error) {
	return s[id], nil
}

type stubEvents map[uuid.UUID]models.Event

func (s stubEvents) Get(_ context.Context, id uuid.UUID) (*models.Event, error) {
	ev, ok := s[id]
	if !ok {
		return nil, apperrors.NotFound("event", id.String())
	}
	return &ev, nil
}

type organizerOnly struct{}

func (organizerOnly) CanManage(_ context.Context, ev *models.Event, userID uuid.UUID) (bool, error) {
	return ev.IsOrganizer(userID), nil
}

func TestHandler_ListByEvent(t *testing.T) {
	organizer := uuid.New()
	ev := models.Event{ID: uuid.New(), CreatedByID: organizer, OrganizerIDs: []uuid.UUID{organizer}}
	logs := stubLogs{ev.ID: {{ID: uuid.New(), EventID: ev.ID, Status: models.NotificationStatusSent}}}
	h := NewHandler(logs, stubEvents{ev.ID: ev}, organizerOnly{}, nil)

	get := func(user uuid.UUID, eventID string) *httptest.ResponseRecorder {
		r := gin.New()
		r.GET("/events/:id/notifications", func(c *gin.Context) {
			c.Set(middleware.ContextUserID, user)
			c.Next()
		}, h.ListByEvent)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/"+eventID+"/notifications", nil))
		return w
	}

	w := get(organizer, ev.ID.String())
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []models.NotificationLog `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, models.NotificationStatusSent, body.Data[0].Status)

	assert.Equal(t, http.StatusForbidden, get(uuid.New(), ev.ID.String()).Code)
	assert.Equal(t, http.StatusNotFound, get(organizer, uuid.NewString()).Code)
	assert.Equal(t, http.StatusBadRequest, get(organizer, "nope").Code)
}
