package tasks

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocalis-ai/vocalis/pkg/Logger"
)

func TestGoSwallowsErrorsAndPanics(t *testing.T) {
	r := NewRunner(Logger.Nop())

	r.Go("failing", func() error { return fmt.Errorf("boom") })
	r.Go("panicking", func() error { panic("boom") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Wait(ctx))
}

func TestGoFatalInvokesCallbackOnErrorOnly(t *testing.T) {
	r := NewRunner(Logger.Nop())
	var fatals atomic.Int32

	r.GoFatal("ok", func() error { return nil }, func() { fatals.Add(1) })
	r.GoFatal("err", func() error { return fmt.Errorf("boom") }, func() { fatals.Add(1) })
	r.GoFatal("panic", func() error { panic("boom") }, func() { fatals.Add(1) })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Wait(ctx))
	assert.Equal(t, int32(2), fatals.Load())
}

func TestWaitHonorsContext(t *testing.T) {
	r := NewRunner(Logger.Nop())
	release := make(chan struct{})
	r.Go("slow", func() error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, r.Wait(context.Background()))
}
