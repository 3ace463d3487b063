package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendAndForJob(t *testing.T) {
	log, err := Open(":memory:")
	require.NoError(t, err)
	defer log.Close()

	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	require.NoError(t, log.Append(ctx, Event{JobID: "j1", CVM: "10.0.0.1", State: "running", Stage: "logfiles", At: base}))
	require.NoError(t, log.Append(ctx, Event{JobID: "j1", CVM: "10.0.0.1", State: "completed", Stage: "done", Message: "finished collect log", At: base.Add(time.Minute)}))
	require.NoError(t, log.Append(ctx, Event{JobID: "j2", CVM: "10.0.0.2", State: "failed", Stage: "logfiles", Message: "ssh connect failed", At: base}))

	events, err := log.ForJob(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "running", events[0].State)
	require.Equal(t, "completed", events[1].State)
	require.Equal(t, "finished collect log", events[1].Message)
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	log, err := Open(":memory:")
	require.NoError(t, err)
	defer log.Close()

	ctx := context.Background()
	base := time.Unix(1700000000, 0)
	for i := 0; i < 3; i++ {
		require.NoError(t, log.Append(ctx, Event{
			JobID: "job", CVM: "10.0.0.1", State: "running", Stage: "logfiles",
			At: base.Add(time.Duration(i) * time.Second),
		}))
	}

	events, err := log.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.True(t, events[0].At.After(events[1].At) || events[0].At.Equal(events[1].At))
}

func TestForJobUnknownReturnsEmpty(t *testing.T) {
	log, err := Open(":memory:")
	require.NoError(t, err)
	defer log.Close()

	events, err := log.ForJob(context.Background(), "missing")
	require.NoError(t, err)
	require.Empty(t, events)
}
