package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neoclaw-ai/herald/internal/logging"
)

const userVisibleHandlerError = "There was an error with your request. Check server logs for details"

// Dispatcher runs queued commands concurrently against a Handler. Commands
// start in FIFO order; at most maxConcurrent run at once.
type Dispatcher struct {
	handler Handler

	queue chan dispatchItem
	slots chan struct{}
	done  chan struct{}
	runWG sync.WaitGroup

	stateMu sync.Mutex
	started bool
	rootCtx context.Context
	pending int
	runs    map[*run]struct{}
}

type dispatchItem struct {
	cmd    *Command
	writer ResponseWriter
}

type run struct {
	userID string
	cancel context.CancelFunc
}

type runKey struct{}

// NewDispatcher creates a dispatcher with a fixed-size queue and concurrency limit.
func NewDispatcher(handler Handler, queueSize, maxConcurrent int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Dispatcher{
		handler: handler,
		queue:   make(chan dispatchItem, queueSize),
		slots:   make(chan struct{}, maxConcurrent),
		done:    make(chan struct{}),
		runs:    make(map[*run]struct{}),
	}
}

// Start begins the dispatch loop.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d == nil {
		return errors.New("dispatcher is required")
	}
	if d.handler == nil {
		return errors.New("handler is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.stateMu.Lock()
	if d.started {
		d.stateMu.Unlock()
		return errors.New("dispatcher already started")
	}
	d.started = true
	d.rootCtx = ctx
	d.stateMu.Unlock()

	go d.run(ctx)
	return nil
}

// Enqueue submits one command. It blocks only while the queue is full.
func (d *Dispatcher) Enqueue(ctx context.Context, cmd *Command, writer ResponseWriter) error {
	if cmd == nil {
		return errors.New("command is required")
	}
	if writer == nil {
		return errors.New("response writer is required")
	}
	rootCtx, started := d.dispatchContext()
	if !started {
		return errors.New("dispatcher is not started")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.addPending(1)
	select {
	case <-rootCtx.Done():
		d.addPending(-1)
		return rootCtx.Err()
	case <-ctx.Done():
		d.addPending(-1)
		return ctx.Err()
	case d.queue <- dispatchItem{cmd: cmd, writer: writer}:
		return nil
	}
}

// CancelUser cancels the running commands of userID, except the one running
// under ctx, and reports how many were canceled.
func (d *Dispatcher) CancelUser(ctx context.Context, userID string) int {
	self, _ := ctx.Value(runKey{}).(*run)

	d.stateMu.Lock()
	var cancels []context.CancelFunc
	for r := range d.runs {
		if r != self && r.userID == userID {
			cancels = append(cancels, r.cancel)
		}
	}
	d.stateMu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

// Running returns the number of commands currently running.
func (d *Dispatcher) Running() int {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return len(d.runs)
}

// Stop cancels every running command and drains all queued commands.
func (d *Dispatcher) Stop() {
	d.cancelRuns()
	for {
		select {
		case <-d.queue:
			d.addPending(-1)
		default:
			return
		}
	}
}

// WaitUntilIdle blocks until no command is running and the queue is empty.
func (d *Dispatcher) WaitUntilIdle(ctx context.Context) error {
	if d == nil {
		return errors.New("dispatcher is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if d.isIdle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Wait blocks until the dispatch loop and every command it started exit.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	<-d.done
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	defer d.runWG.Wait()
	for {
		select {
		case <-ctx.Done():
			d.cancelRuns()
			return
		case item := <-d.queue:
			select {
			case d.slots <- struct{}{}:
			case <-ctx.Done():
				d.addPending(-1)
				d.cancelRuns()
				return
			}
			d.launch(ctx, item)
		}
	}
}

func (d *Dispatcher) launch(ctx context.Context, item dispatchItem) {
	r := &run{userID: item.cmd.UserID}
	runCtx, cancel := context.WithCancel(context.WithValue(ctx, runKey{}, r))
	r.cancel = cancel

	d.stateMu.Lock()
	d.runs[r] = struct{}{}
	d.pending--
	d.stateMu.Unlock()

	d.runWG.Add(1)
	go func() {
		defer d.runWG.Done()
		defer func() { <-d.slots }()
		defer func() {
			d.stateMu.Lock()
			delete(d.runs, r)
			d.stateMu.Unlock()
			cancel()
		}()

		err := d.handle(runCtx, item)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		logging.Logger().Error(
			"command handling failed",
			"command", item.cmd.Name,
			"chat_id", item.cmd.ChatID,
			"user_id", item.cmd.UserID,
			"err", err,
		)
		if writeErr := item.writer.WriteMessage(ctx, userVisibleHandlerError); writeErr != nil {
			logging.Logger().Warn("failed to write handler error message", "err", writeErr)
		}
	}()
}

func (d *Dispatcher) handle(ctx context.Context, item dispatchItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command %q panicked: %v", item.cmd.Name, r)
		}
	}()
	return d.handler.HandleCommand(ctx, item.writer, item.cmd)
}

func (d *Dispatcher) dispatchContext() (context.Context, bool) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.rootCtx, d.started
}

func (d *Dispatcher) addPending(n int) {
	d.stateMu.Lock()
	d.pending += n
	d.stateMu.Unlock()
}

func (d *Dispatcher) cancelRuns() {
	d.stateMu.Lock()
	cancels := make([]context.CancelFunc, 0, len(d.runs))
	for r := range d.runs {
		cancels = append(cancels, r.cancel)
	}
	d.stateMu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (d *Dispatcher) isIdle() bool {
	d.stateMu.Lock()
	busy := len(d.runs) > 0 || d.pending > 0
	started := d.started
	d.stateMu.Unlock()

	return !started || !busy
}
