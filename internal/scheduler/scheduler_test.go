package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextAlignsToBoundary(t *testing.T) {
	s := NewAligned("t", 15*time.Minute, 5*time.Second)
	now := time.Date(2024, 3, 1, 10, 7, 30, 0, time.UTC)
	wakeAt, wait := s.next(now)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 15, 5, 0, time.UTC), wakeAt)
	assert.Equal(t, 7*time.Minute+35*time.Second, wait)

	// 已过边界但还没到 offset，本周期仍然执行
	wakeAt, wait = s.next(time.Date(2024, 3, 1, 10, 15, 2, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 3, 1, 10, 15, 5, 0, time.UTC), wakeAt)
	assert.Equal(t, 3*time.Second, wait)

	wakeAt, _ = s.next(time.Date(2024, 3, 1, 10, 15, 5, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 3, 1, 10, 30, 5, 0, time.UTC), wakeAt)
}

func TestRunImmediatelyAndStopOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewAligned("t", time.Hour, 0)
	s.RunImmediately = true

	var runs atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context) {
			runs.Add(1)
			cancel()
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not exit after cancel")
	}
	assert.Equal(t, int32(1), runs.Load())
}

func TestRunRejectsBadConfig(t *testing.T) {
	task := func(context.Context) { t.Error("task must not run") }
	assert.Error(t, NewAligned("zero", 0, 0).Run(context.Background(), task))
	assert.Error(t, NewAligned("neg", time.Minute, -time.Second).Run(context.Background(), task))
	assert.Error(t, NewAligned("wide", time.Minute, time.Minute).Run(context.Background(), task))
	assert.Error(t, NewAligned("nil", time.Minute, 0).Run(context.Background(), nil))
}

func TestParseInterval(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"4h", 4 * time.Hour, true},
		{" 1D ", 24 * time.Hour, true},
		{"1w", 7 * 24 * time.Hour, true},
		{"30s", 30 * time.Second, true},
		{"1h30m", 90 * time.Minute, true},
		{"10x", 0, false},
		{"m", 0, false},
		{"0d", 0, false},
		{"-5m", 0, false},
	}
	for _, tc := range cases {
		d, ok := ParseInterval(tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, d, tc.in)
	}
}
