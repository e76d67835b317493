package clinical

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestIdentifiers(t *testing.T) {
	local := NewLocalID()
	require.True(t, IsLocalID(local))
	require.False(t, IsRemoteID(local))

	remote := uuid.NewString()
	require.True(t, IsRemoteID(remote))
	require.False(t, IsLocalID(remote))

	require.False(t, IsRemoteID(""))
	require.False(t, IsRemoteID("case-1"))
	require.False(t, IsRemoteID(LocalIDPrefix+remote))
}

func TestElapsed(t *testing.T) {
	anchor := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	require.Equal(t, 90*time.Second, Elapsed(anchor, anchor.Add(90*time.Second+400*time.Millisecond)))
	require.Zero(t, Elapsed(anchor, anchor.Add(-time.Minute)))
	require.Zero(t, Elapsed(time.Time{}, anchor))

	require.Equal(t, "01:30", FormatElapsed(90*time.Second))
	require.Equal(t, "1:02:03", FormatElapsed(time.Hour+2*time.Minute+3*time.Second))
	require.Equal(t, "00:00", FormatElapsed(-time.Second))
}

func TestChecklistMark(t *testing.T) {
	first := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	cl := &InterventionChecklist{}

	require.NoError(t, cl.Mark(StepUterineMassage, first, nil))
	require.NoError(t, cl.Mark(StepUterineMassage, first.Add(time.Minute), &StepDetail{Note: "firm"}))
	require.True(t, cl.UterineMassage.Done)
	require.Equal(t, first, *cl.UterineMassage.DoneAt, "re-marking keeps the first completion time")
	require.Equal(t, "firm", cl.UterineMassage.Detail.Note)
	require.Equal(t, 1, cl.Completed())

	require.Error(t, cl.Mark(Step("prayer"), first, nil))

	_, err := ParseStep("iv_fluids")
	require.NoError(t, err)
}

func TestQueueEntryEligibility(t *testing.T) {
	e := QueueEntry{Status: StatusFailed, RetryCount: 2, MaxRetries: 3}
	require.True(t, e.Eligible())
	require.False(t, e.Terminal())

	e.RetryCount = 3
	require.False(t, e.Eligible())
	require.True(t, e.Terminal())

	e.Status = StatusSynced
	require.False(t, e.Eligible())
	require.False(t, e.Terminal())
}

func TestTouchResetsSyncFlag(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	m := SyncMeta{IsSynced: true}
	m.Touch(now)
	require.False(t, m.IsSynced)
	require.Equal(t, now, m.CreatedAt)
	require.Equal(t, now, m.UpdatedAt)

	m.Touch(now.Add(time.Minute))
	require.Equal(t, now, m.CreatedAt)
	require.Equal(t, now.Add(time.Minute), m.UpdatedAt)
}
