package server

import (
	"sync"

	"github.com/gammazero/deque"
	"github.com/gammazero/workerpool"
	"go.uber.org/zap"
)

// DecodeResult is the output of an asymmetric decode task.
type DecodeResult struct {
	Message   []byte
	RequestID uint32
}

// SerializationQueue offloads asymmetric crypto work to a worker pool while
// preserving per-channel ordering: tasks of one channel run strictly in
// submission order, one at a time; tasks of different channels run in
// parallel.
type SerializationQueue struct {
	wp     *workerpool.WorkerPool
	logger *zap.SugaredLogger

	mu     sync.Mutex
	queues map[*SecureChannel]*channelQueue
}

type channelQueue struct {
	tasks deque.Deque[func()]
	busy  bool
}

// NewSerializationQueue returns a queue backed by the given worker pool.
func NewSerializationQueue(wp *workerpool.WorkerPool, logger *zap.SugaredLogger) *SerializationQueue {
	return &SerializationQueue{
		wp:     wp,
		logger: logger,
		queues: make(map[*SecureChannel]*channelQueue),
	}
}

// SubmitDecode enqueues a decode task for the channel. The done callback
// runs on a worker goroutine of the channel's serial queue.
func (q *SerializationQueue) SubmitDecode(ch *SecureChannel, limits Limits, chunks [][]byte, done func(DecodeResult, error)) {
	q.submit(ch, func() {
		message, requestID, err := DecodeAsymmetric(ch, limits, chunks)
		done(DecodeResult{Message: message, RequestID: requestID}, err)
	})
}

// SubmitEncode enqueues an encode task for the channel. The done callback
// runs on a worker goroutine of the channel's serial queue.
func (q *SerializationQueue) SubmitEncode(ch *SecureChannel, limits Limits, message []byte, requestID uint32, done func([][]byte, error)) {
	q.submit(ch, func() {
		chunks, err := EncodeAsymmetric(ch, limits, message, requestID)
		done(chunks, err)
	})
}

// Forget drops the idle queue entry of a closed channel.
func (q *SerializationQueue) Forget(ch *SecureChannel) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cq, ok := q.queues[ch]; ok && !cq.busy && cq.tasks.Len() == 0 {
		delete(q.queues, ch)
	}
}

func (q *SerializationQueue) submit(ch *SecureChannel, task func()) {
	q.mu.Lock()
	cq, ok := q.queues[ch]
	if !ok {
		cq = new(channelQueue)
		q.queues[ch] = cq
	}
	if cq.busy {
		cq.tasks.PushBack(task)
		q.mu.Unlock()
		return
	}
	cq.busy = true
	q.mu.Unlock()
	q.wp.Submit(func() { q.run(ch, cq, task) })
}

func (q *SerializationQueue) run(ch *SecureChannel, cq *channelQueue, task func()) {
	task()
	q.mu.Lock()
	if cq.tasks.Len() > 0 {
		next := cq.tasks.PopFront()
		q.mu.Unlock()
		q.wp.Submit(func() { q.run(ch, cq, next) })
		return
	}
	cq.busy = false
	if ch.Closed() {
		delete(q.queues, ch)
	}
	q.mu.Unlock()
}
