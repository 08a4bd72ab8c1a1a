package vm

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetIsolateIDs(t *testing.T) {
	vm := startFakeVM(t, func(req fakeRequest) *fakeReply {
		if req.Command == "getIsolateIds" {
			return replyWith(map[string]any{"isolateIds": []int{7114}})
		}
		return nil
	})
	conn := connectTo(t, vm)

	done := make(chan Result[[]int], 1)
	require.NoError(t, conn.GetIsolateIDs(func(r Result[[]int]) { done <- r }))

	select {
	case r := <-done:
		require.False(t, r.IsError())
		assert.Equal(t, []int{7114}, r.Value)
	case <-time.After(5 * time.Second):
		t.Fatal("no response")
	}

	reqs := vm.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, `{"command":"getIsolateIds","params":{},"id":1}`, reqs[0].Raw)
}

func TestRequestIDsIncrease(t *testing.T) {
	vm := startFakeVM(t, nil)
	conn := connectTo(t, vm)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, conn.SendRequest("getIsolateIds", nil, noIsolate, nil))
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return len(vm.received()) == 20 }, 5*time.Second, 10*time.Millisecond)

	seen := map[int]bool{}
	for _, r := range vm.received() {
		assert.False(t, seen[r.ID], "id %d reused", r.ID)
		seen[r.ID] = true
	}
	for id := 1; id <= 20; id++ {
		assert.True(t, seen[id], "id %d missing", id)
	}

	// Ids keep growing within the connection.
	require.NoError(t, conn.SendRequest("getIsolateIds", nil, noIsolate, nil))
	require.Eventually(t, func() bool { return len(vm.received()) == 21 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 21, vm.received()[20].ID)
}

func TestRequestInjectsIsolateID(t *testing.T) {
	vm := startFakeVM(t, nil)
	conn := connectTo(t, vm)

	require.NoError(t, conn.SendRequest("resume", nil, 7, nil))
	require.NoError(t, conn.SendRequest("resume", map[string]any{"isolateId": 3}, 7, nil))
	require.NoError(t, conn.SendRequest("getIsolateIds", nil, noIsolate, nil))

	require.Eventually(t, func() bool { return len(vm.received()) == 3 }, 5*time.Second, 10*time.Millisecond)
	reqs := vm.received()
	byID := map[int]fakeRequest{}
	for _, r := range reqs {
		byID[r.ID] = r
	}
	assert.Equal(t, 7, byID[1].intParam("isolateId"))
	assert.Equal(t, 3, byID[2].intParam("isolateId"))
	assert.NotContains(t, byID[3].Params, "isolateId")
}

func TestTerminationFailsPendingCallbacksOnce(t *testing.T) {
	vm := startFakeVM(t, func(fakeRequest) *fakeReply { return nil })
	rec := &recorder{}
	conn := connectTo(t, vm, rec)

	var calls [3]int32
	var terminated int32
	for i := range calls {
		i := i
		require.NoError(t, conn.SendRequest("getIsolateIds", nil, noIsolate, func(resp Response) {
			atomic.AddInt32(&calls[i], 1)
			if resp.IsError() && resp.Error == terminationMessage {
				atomic.AddInt32(&terminated, 1)
			}
		}))
	}
	require.Eventually(t, func() bool { return len(vm.received()) == 3 }, 5*time.Second, 10*time.Millisecond)

	vm.closeConn()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&terminated) == 3 }, 5*time.Second, 10*time.Millisecond)
	<-conn.Done()
	time.Sleep(50 * time.Millisecond)
	for i := range calls {
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls[i]))
	}
	assert.False(t, conn.IsConnected())
	require.Eventually(t, func() bool { return rec.has("closed") }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "opened", rec.snapshot()[0])
}

func TestSendWithoutConnectionFailsSynchronously(t *testing.T) {
	conn := NewConnection("127.0.0.1:1", Options{})

	var got Response
	called := false
	require.NoError(t, conn.SendRequest("getIsolateIds", nil, noIsolate, func(resp Response) {
		called = true
		got = resp
	}))
	require.True(t, called)
	assert.True(t, got.IsError())
	assert.Equal(t, terminationMessage, got.Error)

	var r Result[[]int]
	require.NoError(t, conn.GetIsolateIDs(func(res Result[[]int]) { r = res }))
	assert.True(t, r.Terminated())
	assert.ErrorIs(t, r.Err(), ErrConnectionTerminated)
}

func TestErrorResponseDelivered(t *testing.T) {
	vm := startFakeVM(t, func(req fakeRequest) *fakeReply { return vmError("no such isolate") })
	conn := connectTo(t, vm)

	r, err := Await(testContext(t), func(cb func(Result[[]int])) error { return conn.GetIsolateIDs(cb) })
	require.NoError(t, err)
	require.True(t, r.IsError())
	assert.False(t, r.Terminated())
	var remote *RemoteError
	require.ErrorAs(t, r.Err(), &remote)
	assert.Equal(t, "no such isolate", remote.Message)
}

func TestIsolateEventsInOrder(t *testing.T) {
	vm := startFakeVM(t, nil)
	first, second := &recorder{}, &recorder{}
	conn := connectTo(t, vm, first, second)

	vm.event("isolate", map[string]any{"reason": "created", "id": 7114})
	vm.event("isolate", map[string]any{"reason": "created", "id": 7115})
	vm.event("isolate", map[string]any{"reason": "shutdown", "id": 7114})

	require.Eventually(t, func() bool { return second.has("shutdown:7114") }, 5*time.Second, 10*time.Millisecond)
	want := []string{"opened", "created:7114", "created:7115", "shutdown:7114"}
	assert.Equal(t, want, first.snapshot())
	assert.Equal(t, want, second.snapshot())

	_, ok := conn.Isolate(7114)
	assert.False(t, ok)
	isolates := conn.Isolates()
	require.Len(t, isolates, 1)
	assert.Equal(t, 7115, isolates[0].ID())
}

func TestRemoveListener(t *testing.T) {
	vm := startFakeVM(t, nil)
	kept, removed := &recorder{}, &recorder{}
	conn := connectTo(t, vm, kept, removed)
	conn.RemoveListener(removed)

	vm.event("isolate", map[string]any{"reason": "created", "id": 1})
	require.Eventually(t, func() bool { return kept.has("created:1") }, 5*time.Second, 10*time.Millisecond)
	assert.False(t, removed.has("created:1"))
}

func TestConnectFailure(t *testing.T) {
	vm := startFakeVM(t, nil)
	addr := vm.addr()
	vm.ln.Close()

	conn := NewConnection(addr, Options{DialTimeout: 200 * time.Millisecond})
	require.Error(t, conn.Connect(testContext(t)))
	assert.False(t, conn.IsConnected())
	require.NoError(t, conn.Close())
	require.Error(t, conn.Connect(testContext(t)))
}
