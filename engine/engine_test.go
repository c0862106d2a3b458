package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/ringq/ringq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSubmitPumpDelivers(t *testing.T) {
	fake := autoFakeRing(8)
	e := New(fake)

	sink := make(chan *Result, 1)
	buf := make([]byte, 64)
	tag, err := e.Submit(ringq.Nop, buf, sink)
	require.NoError(t, err)

	n, err := e.Pump(1, WaitForever)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	res := <-sink
	require.Equal(t, tag, res.Tag())
	require.Equal(t, Success, res.Kind())
	require.Equal(t, len(buf), res.Count())
	require.NoError(t, res.Err())
	require.Same(t, &buf[0], &res.Buffer()[0])
	res.Dispose()

	require.Equal(t, 0, e.InFlight())
}

func TestCompletionsOutOfOrder(t *testing.T) {
	fake := newFakeRing(8)
	e := New(fake)

	sink := make(chan *Result, 4)
	tags := make([]uint64, 4)
	for i := range tags {
		tag, err := e.Submit(ringq.Nop, nil, sink)
		require.NoError(t, err)
		tags[i] = tag
	}

	// resolve in reverse submission order
	for i := len(tags) - 1; i >= 0; i-- {
		fake.complete(tags[i], int32(i), 0)
	}

	n, err := e.Pump(4, WaitForever)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	seen := map[uint64]int{}
	for i := 0; i < 4; i++ {
		res := <-sink
		seen[res.Tag()]++
		res.Dispose()
	}
	for _, tag := range tags {
		require.Equal(t, 1, seen[tag], "tag %d delivered exactly once", tag)
	}
}

func TestQueueFullUntilDrained(t *testing.T) {
	fake := newFakeRing(4)
	e := New(fake)

	sink := make(chan *Result, 8)
	tags := make([]uint64, 4)
	for i := range tags {
		tag, err := e.Submit(ringq.Nop, nil, sink)
		require.NoError(t, err)
		tags[i] = tag
	}

	_, err := e.Submit(ringq.Nop, nil, sink)
	require.True(t, errors.Is(err, ErrQueueFull))

	fake.complete(tags[0], 0, 0)
	n, err := e.Pump(1, WaitForever)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 1)

	tag, err := e.Submit(ringq.Nop, nil, sink)
	require.NoError(t, err)
	for _, old := range tags {
		require.NotEqual(t, old, tag)
	}
}

func TestBlockOnFull(t *testing.T) {
	fake := newFakeRing(2)
	e := New(fake, WithBlockOnFull())

	sink := make(chan *Result, 4)
	t1, err := e.Submit(ringq.Nop, nil, sink)
	require.NoError(t, err)
	_, err = e.Submit(ringq.Nop, nil, sink)
	require.NoError(t, err)

	submitted := make(chan error, 1)
	go func() {
		_, err := e.Submit(ringq.Nop, nil, sink)
		submitted <- err
	}()

	select {
	case <-submitted:
		t.Fatal("submit should block while the queue is full")
	case <-time.After(20 * time.Millisecond):
	}

	fake.complete(t1, 0, 0)
	_, err = e.Pump(1, WaitForever)
	require.NoError(t, err)

	select {
	case err := <-submitted:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked submit was not woken by the freed slot")
	}
}

func TestUnknownTagIsFatal(t *testing.T) {
	fake := newFakeRing(4)
	e := New(fake)

	fake.inject(99, 0)
	_, err := e.Pump(1, WaitForever)
	require.True(t, errors.Is(err, ErrUnknownTag))

	_, err = e.Submit(ringq.Nop, nil, nil)
	require.True(t, errors.Is(err, ErrBroken))
	_, err = e.Pump(0, 0)
	require.True(t, errors.Is(err, ErrBroken))
}

func TestPumpTimeout(t *testing.T) {
	fake := newFakeRing(4)
	e := New(fake)

	start := time.Now()
	n, err := e.Pump(1, 20*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	// zero timeout polls without blocking
	n, err = e.Pump(1, 0)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestResultClassification(t *testing.T) {
	fake := newFakeRing(4)
	e := New(fake)

	sink := make(chan *Result, 4)
	buf := make([]byte, 8)

	full, err := e.Submit(ringq.Nop, buf, sink)
	require.NoError(t, err)
	part, err := e.Submit(ringq.Nop, buf, sink)
	require.NoError(t, err)
	failed, err := e.Submit(ringq.Nop, buf, sink)
	require.NoError(t, err)

	fake.complete(full, 8, 0)
	fake.complete(part, 4, 0)
	fake.complete(failed, -int32(unix.EIO), 0)

	_, err = e.Pump(3, WaitForever)
	require.NoError(t, err)

	kinds := map[uint64]*Result{}
	for i := 0; i < 3; i++ {
		res := <-sink
		kinds[res.Tag()] = res
	}

	require.Equal(t, Success, kinds[full].Kind())
	require.NoError(t, kinds[full].Err())

	require.Equal(t, Partial, kinds[part].Kind())
	require.Equal(t, 4, kinds[part].Count())
	require.NoError(t, kinds[part].Err())

	require.Equal(t, Failure, kinds[failed].Kind())
	require.True(t, errors.Is(kinds[failed].Err(), ErrKernelRejected))
	require.Equal(t, unix.EIO, kinds[failed].Errno())
	require.Equal(t, 0, kinds[failed].Count())
}

func TestFlushBatching(t *testing.T) {
	fake := newFakeRing(8)
	e := New(fake, WithFlushEvery(3))

	sink := make(chan *Result, 8)
	for i := 0; i < 2; i++ {
		_, err := e.Submit(ringq.Nop, nil, sink)
		require.NoError(t, err)
	}
	require.Equal(t, 0, fake.published(), "batch below threshold must not publish")

	_, err := e.Submit(ringq.Nop, nil, sink)
	require.NoError(t, err)
	require.Equal(t, 3, fake.published())
}

func TestFlushOnPump(t *testing.T) {
	fake := newFakeRing(8)
	e := New(fake, WithFlushOnPump())

	sink := make(chan *Result, 8)
	for i := 0; i < 2; i++ {
		_, err := e.Submit(ringq.Nop, nil, sink)
		require.NoError(t, err)
	}
	require.Equal(t, 0, fake.published())

	_, err := e.Pump(0, 0)
	require.NoError(t, err)
	require.Equal(t, 2, fake.published())
}

func TestSubmitPublishDeferred(t *testing.T) {
	fake := autoFakeRing(4)
	fake.setPublishErr(unix.ENOMEM)
	e := New(fake)

	sink := make(chan *Result, 1)
	buf := make([]byte, 8)
	tag, err := e.Submit(ringq.Nop, buf, sink)
	require.True(t, errors.Is(err, ErrPublishDeferred))
	require.Equal(t, 1, e.InFlight(), "a deferred publish keeps the request registered")

	// the notification recovers and the next pump retries it
	fake.setPublishErr(nil)
	n, err := e.Pump(1, WaitForever)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	res := <-sink
	require.Equal(t, tag, res.Tag())
	require.Equal(t, Success, res.Kind())
	res.Dispose()

	require.NoError(t, e.Shutdown(Wait))
}

func TestCloseBusy(t *testing.T) {
	fake := newFakeRing(4)
	e := New(fake)

	sink := make(chan *Result, 1)
	tag, err := e.Submit(ringq.Nop, nil, sink)
	require.NoError(t, err)

	require.True(t, errors.Is(e.Close(), ErrHandleBusy))
	require.False(t, fake.isClosed(), "busy close must not destroy the ring")

	fake.complete(tag, 0, 0)
	_, err = e.Pump(1, WaitForever)
	require.NoError(t, err)

	require.NoError(t, e.Close())
	require.True(t, fake.isClosed())
}

func TestShutdownIdle(t *testing.T) {
	fake := newFakeRing(4)
	e := New(fake)

	require.NoError(t, e.Shutdown(Wait))
	require.True(t, fake.isClosed())

	_, err := e.Submit(ringq.Nop, nil, nil)
	require.True(t, errors.Is(err, ErrClosed))
	require.True(t, errors.Is(e.Shutdown(Wait), ErrClosed))
}

func TestShutdownWaitsForNaturalCompletions(t *testing.T) {
	fake := newFakeRing(8)
	e := New(fake)

	sink := make(chan *Result, 3)
	tags := make([]uint64, 3)
	for i := range tags {
		tag, err := e.Submit(ringq.Nop, nil, sink)
		require.NoError(t, err)
		tags[i] = tag
	}

	go func() {
		for _, tag := range tags {
			time.Sleep(5 * time.Millisecond)
			fake.complete(tag, 1, 0)
		}
	}()

	require.NoError(t, e.Shutdown(Wait))
	require.Equal(t, 0, e.InFlight())
	require.True(t, fake.isClosed())

	for range tags {
		res := <-sink
		assert.Equal(t, Success, res.Kind())
	}
}

func TestShutdownCancelResolvesStragglers(t *testing.T) {
	fake := newFakeRing(8)
	e := New(fake, WithCancelGrace(20*time.Millisecond))

	sink := make(chan *Result, 2)
	for i := 0; i < 2; i++ {
		_, err := e.Submit(ringq.Nop, nil, sink)
		require.NoError(t, err)
	}

	// no cancel support and nothing completes naturally, the grace bound
	// forces both outcomes
	require.NoError(t, e.Shutdown(Cancel))
	require.Equal(t, 0, e.InFlight())
	require.True(t, fake.isClosed())

	for i := 0; i < 2; i++ {
		res := <-sink
		require.Equal(t, Cancelled, res.Kind())
		require.True(t, errors.Is(res.Err(), ErrCancelled))
	}
}

func TestShutdownCancelViaSubstrate(t *testing.T) {
	fake := newFakeRing(8)
	fake.cancels = true
	e := New(fake, WithCancelSupport(true), WithCancelGrace(time.Second))

	sink := make(chan *Result, 2)
	for i := 0; i < 2; i++ {
		_, err := e.Submit(ringq.Nop, nil, sink)
		require.NoError(t, err)
	}

	start := time.Now()
	require.NoError(t, e.Shutdown(Cancel))
	require.Less(t, int64(time.Since(start)), int64(time.Second),
		"substrate cancellation should beat the grace bound")

	for i := 0; i < 2; i++ {
		res := <-sink
		require.Equal(t, Cancelled, res.Kind())
	}
	require.True(t, fake.isClosed())
}

func TestServeDrains(t *testing.T) {
	fake := autoFakeRing(16)
	e := New(fake)

	served := make(chan error, 1)
	go func() {
		served <- e.Serve()
	}()

	sink := make(chan *Result, 16)
	for i := 0; i < 10; i++ {
		_, err := e.Submit(ringq.Nop, nil, sink)
		require.NoError(t, err)
	}
	for i := 0; i < 10; i++ {
		res := <-sink
		res.Dispose()
	}

	require.NoError(t, e.Shutdown(Wait))
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("serve loop did not stop on shutdown")
	}
}

func TestShutdownStopsServeOnPublishFailure(t *testing.T) {
	fake := newFakeRing(8)
	e := New(fake)

	served := make(chan error, 1)
	go func() {
		served <- e.Serve()
	}()

	sink := make(chan *Result, 1)
	_, err := e.Submit(ringq.Nop, nil, sink)
	require.NoError(t, err)

	// the stop sentinel cannot be published from here on, shutdown must
	// still wait for the serve loop before destroying the ring
	fake.setPublishErr(unix.ENOMEM)
	require.Error(t, e.Shutdown(Wait))

	select {
	case <-served:
	case <-time.After(time.Second):
		t.Fatal("serve loop survived shutdown and would still drive the destroyed ring")
	}
	require.True(t, fake.isClosed())

	res := <-sink
	require.Equal(t, Cancelled, res.Kind())
}

func TestConcurrentSubmitters(t *testing.T) {
	fake := autoFakeRing(64)
	e := New(fake, WithBlockOnFull())

	go func() {
		_ = e.Serve()
	}()

	const workers, perWorker = 8, 50
	sink := make(chan *Result, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := e.Submit(ringq.Nop, nil, sink)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	seen := map[uint64]bool{}
	for i := 0; i < workers*perWorker; i++ {
		res := <-sink
		require.False(t, seen[res.Tag()], "tag delivered twice")
		seen[res.Tag()] = true
		res.Dispose()
	}
	require.NoError(t, e.Shutdown(Wait))
}
