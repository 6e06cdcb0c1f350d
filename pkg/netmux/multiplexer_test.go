package netmux

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSocket becomes readable after N polls, simulating data arriving.
type fakeSocket struct {
	readyAfter int32
	polls      int32
	failing    bool
}

func (s *fakeSocket) Poll(want Interest, timeout time.Duration) (Interest, error) {
	n := atomic.AddInt32(&s.polls, 1)
	if s.failing {
		return Interest{}, errors.New("connection reset")
	}
	if want.Readable && n >= s.readyAfter {
		return Interest{Readable: true}, nil
	}
	if want.Writable && n >= s.readyAfter {
		return Interest{Writable: true}, nil
	}
	return Interest{}, nil
}

func TestMultiplexerDeliversReadableTransition(t *testing.T) {
	mux := New(time.Millisecond)
	mux.Start()
	defer mux.Stop()

	sock := &fakeSocket{readyAfter: 3}
	delivered := make(chan struct{}, 1)

	job := &Job{
		Socket:   sock,
		Interest: Interest{Readable: true},
	}
	job.Run = func(ready Interest, err error) JobResult {
		require.NoError(t, err)
		if ready.Readable {
			delivered <- struct{}{}
			return JobResult{Next: nil} // one-shot: remove after firing
		}
		return JobResult{Next: job}
	}
	mux.AddSocket("sock1", job)

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("readable transition never delivered")
	}

	require.Eventually(t, func() bool { return mux.Count() == 0 }, time.Second, time.Millisecond)
}

func TestMultiplexerErrorTransitionRemovesJob(t *testing.T) {
	mux := New(time.Millisecond)
	mux.Start()
	defer mux.Stop()

	sock := &fakeSocket{failing: true}
	errSeen := make(chan error, 1)

	job := &Job{Socket: sock, Interest: Interest{Readable: true, Error: true}}
	job.Run = func(ready Interest, err error) JobResult {
		errSeen <- err
		return JobResult{Next: nil}
	}
	mux.AddSocket("sock1", job)

	select {
	case err := <-errSeen:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("error transition never delivered")
	}
	require.Eventually(t, func() bool { return mux.Count() == 0 }, time.Second, time.Millisecond)
}

func TestConcurrentAddRemoveDuringServiceDoesNotRace(t *testing.T) {
	mux := New(time.Millisecond)
	mux.Start()
	defer mux.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "sock"
			sock := &fakeSocket{readyAfter: 1000000} // never fires
			job := &Job{Socket: sock, Interest: Interest{Readable: true}}
			job.Run = func(ready Interest, err error) JobResult { return JobResult{Next: job} }
			for j := 0; j < 50; j++ {
				mux.AddSocket(key, job)
				mux.RemoveSocket(key)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, mux.Count())
}

func TestReplaceJobChangesInterest(t *testing.T) {
	mux := New(time.Millisecond)
	mux.Start()
	defer mux.Stop()

	sock := &fakeSocket{readyAfter: 1}
	writableSeen := make(chan struct{}, 1)

	var job2 *Job
	job1 := &Job{Socket: sock, Interest: Interest{Readable: true}}
	job1.Run = func(ready Interest, err error) JobResult {
		job2 = &Job{Socket: sock, Interest: Interest{Writable: true}}
		job2.Run = func(ready Interest, err error) JobResult {
			require.True(t, ready.Writable)
			writableSeen <- struct{}{}
			return JobResult{Next: nil}
		}
		return JobResult{Next: job2}
	}
	mux.AddSocket("sock1", job1)

	select {
	case <-writableSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement job never ran")
	}
}
