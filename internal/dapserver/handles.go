package dapserver

import "sync"

const startHandle = 1000

// handlesMap maps values to sequential ids handed to the DAP client as
// frame, variable and source references.
type handlesMap[T any] struct {
	mu          sync.Mutex
	nextHandle  int
	handleToVal map[int]T
}

func newHandlesMap[T any]() *handlesMap[T] {
	return &handlesMap[T]{nextHandle: startHandle, handleToVal: make(map[int]T)}
}

func (hs *handlesMap[T]) reset() {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.nextHandle = startHandle
	hs.handleToVal = make(map[int]T)
}

func (hs *handlesMap[T]) create(value T) int {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	next := hs.nextHandle
	hs.nextHandle++
	hs.handleToVal[next] = value
	return next
}

func (hs *handlesMap[T]) get(handle int) (T, bool) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	v, ok := hs.handleToVal[handle]
	return v, ok
}
