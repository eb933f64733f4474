package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(arbor.NewLogger()).(*Service)
}

func TestRegisterJobValidatesSchedule(t *testing.T) {
	svc := newTestService(t)

	err := svc.RegisterJob("bad", "not a cron expr", func() error { return nil })
	require.Error(t, err, "Malformed schedule must be rejected at registration")

	err = svc.RegisterJob("stale-audit", "*/15 * * * *", func() error { return nil })
	require.NoError(t, err, "Standard five-field schedule should register")
}

func TestRegisterJobRejectsDuplicateName(t *testing.T) {
	svc := newTestService(t)

	require.NoError(t, svc.RegisterJob("stats", "* * * * *", func() error { return nil }))
	err := svc.RegisterJob("stats", "*/5 * * * *", func() error { return nil })
	assert.Error(t, err, "Duplicate job names must be rejected")
}

func TestExecuteJobTracksRunAndError(t *testing.T) {
	svc := newTestService(t)

	var runs int32
	require.NoError(t, svc.RegisterJob("ok", "* * * * *", func() error {
		atomic.AddInt32(&runs, 1)
		return nil
	}))
	require.NoError(t, svc.RegisterJob("broken", "* * * * *", func() error {
		return errors.New("audit query failed")
	}))

	svc.executeJob("ok")
	svc.executeJob("broken")

	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))

	statuses := svc.GetJobStatuses()
	require.Contains(t, statuses, "ok")
	require.Contains(t, statuses, "broken")

	assert.NotNil(t, statuses["ok"].LastRun, "Completed job records its last run")
	assert.Empty(t, statuses["ok"].LastErr)
	assert.Equal(t, "audit query failed", statuses["broken"].LastErr)
	assert.NotNil(t, statuses["broken"].LastRun, "Failed runs still record when they ran")
}

func TestExecuteJobRecoversFromPanic(t *testing.T) {
	svc := newTestService(t)

	require.NoError(t, svc.RegisterJob("panics", "* * * * *", func() error {
		panic("boom")
	}))

	assert.NotPanics(t, func() { svc.executeJob("panics") }, "A panicking job must not take the scheduler down")

	statuses := svc.GetJobStatuses()
	assert.Contains(t, statuses["panics"].LastErr, "panic", "The panic is recorded as the last error")
}

func TestStartStopLifecycle(t *testing.T) {
	svc := newTestService(t)

	require.NoError(t, svc.RegisterJob("stats", "* * * * *", func() error { return nil }))

	require.NoError(t, svc.Start())
	assert.Error(t, svc.Start(), "Double start must be rejected")

	statuses := svc.GetJobStatuses()
	require.Contains(t, statuses, "stats")
	assert.NotNil(t, statuses["stats"].NextRun, "A started scheduler knows the next run time")

	require.NoError(t, svc.Stop())
	assert.NoError(t, svc.Stop(), "Stopping a stopped scheduler is harmless")
}
