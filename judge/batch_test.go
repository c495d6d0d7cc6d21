package judge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCheckSubmissions(t *testing.T) {
	f := newFixture(t)
	f.submit(1, correctAnswer)
	f.submit(2, "INSERT INTO t VALUES (2);")
	f.submit(13, correctAnswer)
	f.submit(4, correctAnswer)
	f.registry.panicOn = 13

	failed := f.checker.CheckSubmissions(context.Background(), []int64{13, 1, 404, 2, 4})
	require.Equal(t, []int64{13, 404}, failed)

	for id, status := range map[int64]Status{1: Accepted, 2: WrongAnswer, 4: Accepted} {
		v, ok := f.registry.verdict(id)
		require.True(t, ok, "submission %d", id)
		require.Equal(t, int(status), v.status, "submission %d", id)
	}
	// concurrent checks on one sandbox agree on the reference output
	outputs := f.registry.savedOutputs(assignmentID)
	require.NotEmpty(t, outputs)
	for _, out := range outputs {
		require.Equal(t, correctOutput, out)
	}
	require.Equal(t, []int64{1}, f.server.rows(sandbox))
	require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.sandboxOps.WithLabelValues("PostgreSQL", "create")))
}

func TestGenerateCorrectOutputs(t *testing.T) {
	f := newFixture(t)

	failed := f.checker.GenerateCorrectOutputs(context.Background(), []int64{assignmentID, 404})
	require.Equal(t, []int64{404}, failed)
	require.Equal(t, []string{correctOutput}, f.registry.savedOutputs(assignmentID))
}

func TestPoller(t *testing.T) {
	f := newFixture(t)
	f.submit(1, correctAnswer)
	f.submit(2, "INSERT INTO t VALUES (2);")
	f.submit(13, correctAnswer)
	f.registry.panicOn = 13

	p := NewPoller(zap.NewNop(), f.registry, f.checker, PollerConfig{
		FetchPeriod:   10 * time.Millisecond,
		ReviewerCount: 2,
		BatchSize:     10,
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		ids, _ := f.registry.PendingSubmissions(context.Background(), int(Pending), 10)
		return len(ids) == 0
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	wg.Wait()

	v, _ := f.registry.verdict(1)
	require.Equal(t, int(Accepted), v.status)
	v, _ = f.registry.verdict(2)
	require.Equal(t, int(WrongAnswer), v.status)

	failure, ok := f.registry.failure(13)
	require.True(t, ok)
	require.Equal(t, int(UnknownError), failure.status)

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Empty(t, p.inFlight)
}
