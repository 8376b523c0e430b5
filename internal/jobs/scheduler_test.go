package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"workflow-service/internal/notification"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingRetrier struct {
	runs atomic.Int32
}

func (r *countingRetrier) RetryFailedEmails(context.Context) notification.RetryReport {
	r.runs.Add(1)
	return notification.RetryReport{Selected: 1, Sent: 1}
}

func TestScheduleEmailRetryRuns(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	retrier := &countingRetrier{}
	require.NoError(t, s.ScheduleEmailRetry("@every 1s", retrier))

	s.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	assert.Eventually(t, func() bool { return retrier.runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestScheduleEmailRetryRejectsBadSpec(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	assert.Error(t, s.ScheduleEmailRetry("every now and then", &countingRetrier{}))
}
