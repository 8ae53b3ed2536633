package generator

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/holee9/hnvue/internal/herrors"
)

// QueueConfig configures the command dispatcher.
type QueueConfig struct {
	Depth      int
	Timeout    time.Duration
	RetryCount int
}

// DefaultQueueConfig matches spec §4.3's defaults: depth 16, timeout
// 500ms, retries 3.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{Depth: 16, Timeout: 500 * time.Millisecond, RetryCount: 3}
}

type queuedCommand struct {
	cmd    Command
	result chan queueResult
}

type queueResult struct {
	reply Reply
	err   error
}

// CommandQueue serializes commands to a single Transport via a single
// dispatcher goroutine. Enqueue is non-blocking for callers: it either
// accepts the command into the bounded FIFO or fails immediately with
// a State error. Abort commands jump to the head of the queue after
// the in-flight command completes; they are never coalesced or
// dropped.
type CommandQueue struct {
	transport Transport
	cfg       QueueConfig

	mu       sync.Mutex
	fifo     *list.List // of *queuedCommand, non-abort
	aborts   *list.List // of *queuedCommand, always served first
	notEmpty *sync.Cond

	stopping bool
	stopped  chan struct{}
}

// NewCommandQueue constructs a queue over transport with cfg and
// starts no goroutine yet; call Start.
func NewCommandQueue(transport Transport, cfg QueueConfig) *CommandQueue {
	q := &CommandQueue{
		transport: transport,
		cfg:       cfg,
		fifo:      list.New(),
		aborts:    list.New(),
		stopped:   make(chan struct{}),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Start launches the single dispatcher goroutine.
func (q *CommandQueue) Start() {
	go q.dispatchLoop()
}

// Stop signals the dispatcher to exit after draining in-flight work.
func (q *CommandQueue) Stop() {
	q.mu.Lock()
	q.stopping = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
	<-q.stopped
}

// Enqueue appends a non-abort command to the FIFO tail and waits for
// its result. Enqueue beyond the configured depth fails immediately
// with a State error; it never blocks on queue depth.
func (q *CommandQueue) Enqueue(ctx context.Context, cmd Command) (Reply, error) {
	qc := &queuedCommand{cmd: cmd, result: make(chan queueResult, 1)}

	q.mu.Lock()
	if q.fifo.Len()+q.aborts.Len() >= q.cfg.Depth {
		q.mu.Unlock()
		return Reply{}, herrors.New("generator.Enqueue", herrors.KindState, nil)
	}
	q.fifo.PushBack(qc)
	q.mu.Unlock()
	q.notEmpty.Signal()

	select {
	case r := <-qc.result:
		return r.reply, r.err
	case <-ctx.Done():
		return Reply{}, herrors.New("generator.Enqueue", herrors.KindAbort, ctx.Err())
	}
}

// EnqueueAbort jumps an abort command to the head of the queue. Abort
// commands are served ahead of every queued non-abort command, right
// after whatever command is currently in flight finishes. Enqueue of
// an abort must return control to the caller in ≤10ms; the result
// channel is not awaited here, matching spec §4.3's ≤10ms return bound
// for abort_exposure.
func (q *CommandQueue) EnqueueAbort(_ context.Context) error {
	qc := &queuedCommand{cmd: Command{Kind: "abort", IsAbort: true}, result: make(chan queueResult, 1)}
	q.mu.Lock()
	q.aborts.PushBack(qc)
	q.mu.Unlock()
	q.notEmpty.Signal()
	return nil
}

func (q *CommandQueue) dispatchLoop() {
	defer close(q.stopped)
	for {
		q.mu.Lock()
		for q.aborts.Len() == 0 && q.fifo.Len() == 0 && !q.stopping {
			q.notEmpty.Wait()
		}
		if q.stopping && q.aborts.Len() == 0 && q.fifo.Len() == 0 {
			q.mu.Unlock()
			return
		}

		var el *list.Element
		if q.aborts.Len() > 0 {
			el = q.aborts.Front()
			q.aborts.Remove(el)
		} else {
			el = q.fifo.Front()
			q.fifo.Remove(el)
		}
		q.mu.Unlock()

		qc := el.Value.(*queuedCommand)
		reply, err := q.sendWithRetry(qc.cmd)
		qc.result <- queueResult{reply: reply, err: err}
	}
}

// sendWithRetry sends cmd, retrying up to cfg.RetryCount times on any
// send error, each attempt bounded by cfg.Timeout. Final failure
// surfaces a Timeout error carrying the
// original command's identity via the Kind tagging in herrors.
func (q *CommandQueue) sendWithRetry(cmd Command) (Reply, error) {
	var lastErr error
	for attempt := 0; attempt <= q.cfg.RetryCount; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), q.cfg.Timeout)
		reply, err := q.transport.Send(ctx, cmd)
		cancel()
		if err == nil {
			return reply, nil
		}
		lastErr = err
	}
	return Reply{}, herrors.New("generator.sendWithRetry:"+cmd.Kind, herrors.KindTimeout, lastErr)
}
