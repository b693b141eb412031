package bus

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Queue capacities. The realtime side never blocks: a full queue drops the
// item and bumps a counter instead.
const (
	commandQueueCap = 256
	messageQueueCap = 1024
	logQueueCap     = 1024
)

// Bus is the three-queue fabric linking the control plane, the realtime
// plane and the notification plane. All queues are lock-free MPMC with
// non-blocking try semantics, so multiple producers (network endpoints, the
// processor's own loopback commands) can share them.
type Bus struct {
	commands *xsync.MPMCQueueOf[ControlAction]
	messages *xsync.MPMCQueueOf[Message]
	logs     *xsync.MPMCQueueOf[LogItem]

	commandDrops atomic.Uint64
	messageDrops atomic.Uint64
	logDrops     atomic.Uint64
}

// New builds an empty bus.
func New() *Bus {
	return &Bus{
		commands: xsync.NewMPMCQueueOf[ControlAction](commandQueueCap),
		messages: xsync.NewMPMCQueueOf[Message](messageQueueCap),
		logs:     xsync.NewMPMCQueueOf[LogItem](logQueueCap),
	}
}

// Command enqueues a control action for the realtime plane. Returns false
// (and counts a drop) when the queue is full.
func (b *Bus) Command(a ControlAction) bool {
	if !b.commands.TryEnqueue(a) {
		b.commandDrops.Add(1)
		return false
	}
	return true
}

// TryCommand dequeues the next pending control action.
func (b *Bus) TryCommand() (ControlAction, bool) {
	return b.commands.TryDequeue()
}

// Notify enqueues an outbound message. Returns false (and counts a drop)
// when the queue is full; the realtime caller never blocks on this.
func (b *Bus) Notify(m Message) bool {
	if !b.messages.TryEnqueue(m) {
		b.messageDrops.Add(1)
		return false
	}
	return true
}

// TryMessage dequeues the next outbound message.
func (b *Bus) TryMessage() (Message, bool) {
	return b.messages.TryDequeue()
}

// Log enqueues a log item. Returns false (and counts a drop) when the queue
// is full.
func (b *Bus) Log(item LogItem) bool {
	if !b.logs.TryEnqueue(item) {
		b.logDrops.Add(1)
		return false
	}
	return true
}

// TryLog dequeues the next pending log item.
func (b *Bus) TryLog() (LogItem, bool) {
	return b.logs.TryDequeue()
}

// Drops reports the number of items discarded per queue since start, in the
// order commands, messages, logs.
func (b *Bus) Drops() (commands, messages, logs uint64) {
	return b.commandDrops.Load(), b.messageDrops.Load(), b.logDrops.Load()
}
