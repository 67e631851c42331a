package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_AssignsULID(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	a := New(TrialActivated, "u1", at)
	b := New(TrialActivated, "u1", at)

	assert.NotEqual(t, a.ID, b.ID)
	_, err := ulid.Parse(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", a.UserID)
	assert.Equal(t, at, a.OccurredAt)
}

func TestEvent_JSON(t *testing.T) {
	end := time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)
	e := New(TrialReminder, "u1", end)
	e.CommunityID = "c1"
	e.Urgency = UrgencyUrgent
	e.DaysRemaining = 2
	e.TrialEndDate = &end

	body, err := json.Marshal(e)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(body, &fields))
	assert.Equal(t, "trial.reminder", fields["type"])
	assert.Equal(t, "urgent", fields["urgency"])
	assert.EqualValues(t, 2, fields["days_remaining"])
	assert.NotContains(t, fields, "link_url")
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	ctx := context.Background()

	require.NoError(t, r.Publish(ctx, New(TrialActivated, "u1", time.Now())))
	require.NoError(t, r.Publish(ctx, New(TrialExpired, "u1", time.Now())))
	assert.Len(t, r.Events(), 2)
	assert.Len(t, r.OfType(TrialExpired), 1)

	r.Err = errors.New("broker down")
	assert.Error(t, r.Publish(ctx, New(TrialExpired, "u1", time.Now())))
	assert.Len(t, r.Events(), 2)
}
