package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"proof-vault/storage"
)

var ErrQueueStopped = errors.New("persistence queue stopped")

type persistOp int

const (
	opSet persistOp = iota
	opDelete
	opBarrier
)

// persistRequest is one queued storage operation. done, when set, receives the result;
// then, when set, runs on the worker after a successful write. A latest request may be
// overwritten in place by a newer value for the same key while it waits.
type persistRequest struct {
	op     persistOp
	key    string
	value  []byte
	latest bool
	done   chan error
	then   func(ctx context.Context)
}

// PersistQueue applies storage writes on a single worker goroutine so that callers never
// wait on I/O and writes land in submission order. Submitting never blocks.
type PersistQueue struct {
	store      storage.Store
	logger     *zap.Logger
	timeout    time.Duration
	mu         sync.Mutex
	pending    []*persistRequest
	stopped    bool
	wake       chan struct{}
	shutdownCh chan struct{}
	workerWg   sync.WaitGroup
	stopOnce   sync.Once
}

// NewPersistQueue creates a new queue; call Start before submitting.
func NewPersistQueue(store storage.Store, logger *zap.Logger, timeout time.Duration) *PersistQueue {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PersistQueue{
		store:      store,
		logger:     logger,
		timeout:    timeout,
		wake:       make(chan struct{}, 1),
		shutdownCh: make(chan struct{}),
	}
}

// Start begins processing queued writes
func (pq *PersistQueue) Start() {
	pq.workerWg.Add(1)
	go pq.worker()
}

// Stop drains pending writes and waits for the worker to exit.
func (pq *PersistQueue) Stop() {
	pq.stopOnce.Do(func() {
		pq.mu.Lock()
		pq.stopped = true
		pq.mu.Unlock()
		close(pq.shutdownCh)
	})
	pq.workerWg.Wait()
}

// Save queues a write of value under key. Every Save is applied.
func (pq *PersistQueue) Save(key string, value []byte, then func(ctx context.Context)) {
	pq.submit(&persistRequest{op: opSet, key: key, value: value, then: then})
}

// SaveLatest queues a write that only needs its newest value to land. While an earlier
// SaveLatest for key is still waiting, its value is replaced instead of queueing another.
func (pq *PersistQueue) SaveLatest(key string, value []byte) {
	pq.submit(&persistRequest{op: opSet, key: key, value: value, latest: true})
}

// Delete queues removal of key. The returned channel yields the result once applied.
func (pq *PersistQueue) Delete(key string) <-chan error {
	req := &persistRequest{op: opDelete, key: key, done: make(chan error, 1)}
	if !pq.submit(req) {
		req.done <- ErrQueueStopped
		close(req.done)
	}
	return req.done
}

// Flush waits until every write queued before the call has been applied.
func (pq *PersistQueue) Flush(ctx context.Context) error {
	req := &persistRequest{op: opBarrier, done: make(chan error, 1)}
	if !pq.submit(req) {
		return ErrQueueStopped
	}
	return waitResult(ctx, req.done)
}

// Len reports the number of requests waiting for the worker.
func (pq *PersistQueue) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return len(pq.pending)
}

func (pq *PersistQueue) submit(req *persistRequest) bool {
	pq.mu.Lock()
	if pq.stopped {
		pq.mu.Unlock()
		pq.logger.Warn("persistence queue stopped, write dropped", zap.String("key", req.key))
		return false
	}

	if req.latest && pq.replaceLocked(req) {
		pq.mu.Unlock()
		return true
	}
	pq.pending = append(pq.pending, req)
	pq.mu.Unlock()

	select {
	case pq.wake <- struct{}{}:
	default:
	}
	return true
}

// replaceLocked overwrites the value of the newest waiting request for the same key when
// that request is itself a latest write. Anything else queued for the key after it, such
// as a delete, keeps the new value behind it.
func (pq *PersistQueue) replaceLocked(req *persistRequest) bool {
	for i := len(pq.pending) - 1; i >= 0; i-- {
		prev := pq.pending[i]
		if prev.key != req.key {
			continue
		}
		if prev.op != opSet || !prev.latest {
			return false
		}
		prev.value = req.value
		return true
	}
	return false
}

func waitResult(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (pq *PersistQueue) next() (*persistRequest, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if len(pq.pending) == 0 {
		return nil, pq.stopped
	}
	req := pq.pending[0]
	pq.pending[0] = nil
	pq.pending = pq.pending[1:]
	return req, false
}

func (pq *PersistQueue) worker() {
	defer pq.workerWg.Done()

	for {
		req, stopped := pq.next()
		if req != nil {
			pq.apply(req)
			continue
		}
		// Drain what was accepted before shutdown, then exit
		if stopped {
			return
		}
		select {
		case <-pq.wake:
		case <-pq.shutdownCh:
		}
	}
}

func (pq *PersistQueue) apply(req *persistRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), pq.timeout)
	defer cancel()

	var err error
	switch req.op {
	case opSet:
		err = pq.store.Set(ctx, req.key, req.value)
	case opDelete:
		err = pq.store.Delete(ctx, req.key)
	}

	if err != nil {
		pq.logger.Warn("persistence failed",
			zap.String("key", req.key),
			zap.Error(err))
	} else if req.then != nil {
		req.then(ctx)
	}

	if req.done != nil {
		req.done <- err
		close(req.done)
	}
}
