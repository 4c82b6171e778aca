package eventsourcing

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
)

var (
	ErrCommandBusStopped = errors.New("command bus is stopped")
	ErrNoCommandHandler  = errors.New("no handler for command")
)

// queuedCommand represents a command enqueued in the command bus for processing.
type queuedCommand struct {
	ctx      context.Context
	command  Command
	response chan<- commandResult
}

type commandResult struct {
	result AppendResult
	err    error
}

// CommandBus is an in-memory command dispatcher. Commands are sharded by
// aggregate id, so commands of one aggregate run one at a time in dispatch
// order and never race each other on the stream's expected version.
//
// The CommandBus supports:
//   - Typed command registration using generics
//   - Safe shutdown that waits for in-flight commands to complete
//   - Panic recovery in handlers to prevent the bus from crashing
type CommandBus struct {
	hmu      sync.RWMutex
	handlers map[string]func(ctx context.Context, command Command) (AppendResult, error)

	// mu guards stopped and the queues against being closed mid-send.
	mu      sync.RWMutex
	stopped bool
	queues  []chan queuedCommand
	workers sync.WaitGroup
}

// NewCommandBus starts shardCount workers, each with a queue of bufferSize.
//
// Example:
//
//	bus := NewCommandBus(100, 4)
//	_ = RegisterCommand(bus, NewCommandHandler(orders, decideCreate))
//	result, err := bus.Dispatch(ctx, CreateOrder{OrderID: "1"})
func NewCommandBus(bufferSize int, shardCount int) *CommandBus {
	if shardCount <= 0 {
		shardCount = 1
	}
	if bufferSize < 0 {
		bufferSize = 0
	}

	bus := &CommandBus{
		queues:   make([]chan queuedCommand, shardCount),
		handlers: make(map[string]func(ctx context.Context, command Command) (AppendResult, error)),
	}
	for i := range bus.queues {
		bus.queues[i] = make(chan queuedCommand, bufferSize)
		bus.workers.Add(1)
		go bus.worker(bus.queues[i])
	}
	return bus
}

// Dispatch enqueues cmd on its aggregate's shard and waits for the result.
// It is safe to call concurrently.
func (b *CommandBus) Dispatch(ctx context.Context, cmd Command) (AppendResult, error) {
	responseCh := make(chan commandResult, 1)

	b.mu.RLock()
	if b.stopped {
		b.mu.RUnlock()
		return AppendResult{}, ErrCommandBusStopped
	}
	queue := b.queues[b.shard(cmd.AggregateID())]
	select {
	case queue <- queuedCommand{ctx: ctx, command: cmd, response: responseCh}:
		b.mu.RUnlock()
	case <-ctx.Done():
		b.mu.RUnlock()
		return AppendResult{}, ctx.Err()
	}

	select {
	case res := <-responseCh:
		return res.result, res.err
	case <-ctx.Done():
		return AppendResult{}, ctx.Err()
	}
}

// worker processes commands from a single shard queues.
func (b *CommandBus) worker(queue chan queuedCommand) {
	defer b.workers.Done()
	for cmd := range queue {
		cmd.response <- b.handle(cmd)
	}
}

func (b *CommandBus) handle(cmd queuedCommand) (res commandResult) {
	name := fmt.Sprintf("%T", cmd.command)

	b.hmu.RLock()
	h, exists := b.handlers[name]
	b.hmu.RUnlock()
	if !exists {
		return commandResult{err: fmt.Errorf("%w %s", ErrNoCommandHandler, name)}
	}
	if err := cmd.ctx.Err(); err != nil {
		return commandResult{err: err}
	}

	defer func() {
		if r := recover(); r != nil {
			res = commandResult{err: fmt.Errorf("panic in handler for %s: %v", name, r)}
		}
	}()
	result, err := h(cmd.ctx, cmd.command)
	return commandResult{result: result, err: err}
}

func (b *CommandBus) shard(aggregateID string) int {
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(aggregateID))
	return int(hash.Sum32() % uint32(len(b.queues)))
}

// RegisterCommand adds the handler of command type C. The type name is
// taken from C itself, so no registration string is needed. A second
// handler for the same type fails with ErrDuplicateHandler.
func RegisterCommand[C Command](b *CommandBus, handler CommandHandler[C]) error {
	var zero C
	name := fmt.Sprintf("%T", zero)

	b.hmu.Lock()
	defer b.hmu.Unlock()
	if _, exists := b.handlers[name]; exists {
		return fmt.Errorf("%w: command %s", ErrDuplicateHandler, name)
	}

	b.handlers[name] = func(ctx context.Context, cmd Command) (AppendResult, error) {
		c, ok := cmd.(C)
		if !ok {
			return AppendResult{}, fmt.Errorf("expected command type %s but got %T", name, cmd)
		}
		return handler(ctx, c)
	}
	return nil
}

// Stop stops accepting commands and waits for queued ones to finish.
func (b *CommandBus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	for _, q := range b.queues {
		close(q)
	}
	b.mu.Unlock()
	b.workers.Wait()
}
