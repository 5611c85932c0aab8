package rpc

import (
	"sync"

	"github.com/danmuck/ipcmux/internal/protocol/frame"
)

const maxContexts = int(frame.MaxContextID) + 1

// cmdCtx correlates one chain of calls with the peer context serving it.
type cmdCtx struct {
	id uint8
	// remoteID is the peer context on the other end of this chain. Only the goroutine
	// currently holding the context touches it.
	remoteID uint8
	useCount int
	mailbox  chan *Packet
}

// Task is the explicit handle of a call chain. Handlers receive the Task of the context
// they run on; passing it to a call reuses that context, which is what lets a handler call
// back into the peer while the peer is blocked waiting on it.
type Task struct {
	ctx *cmdCtx
}

// ContextID is the local context id backing the task.
func (t *Task) ContextID() uint8 {
	return t.ctx.id
}

type ctxPool struct {
	mu   sync.Mutex
	ctxs []*cmdCtx
	free chan *cmdCtx
	used int
	// onChange observes the number of contexts in use.
	onChange func(inUse int)
}

func newCtxPool(size, mailboxDepth int, onChange func(int)) *ctxPool {
	p := &ctxPool{
		ctxs:     make([]*cmdCtx, size),
		free:     make(chan *cmdCtx, size),
		onChange: onChange,
	}
	for i := range p.ctxs {
		c := &cmdCtx{
			id:       uint8(i),
			remoteID: frame.NoContext,
			mailbox:  make(chan *Packet, mailboxDepth),
		}
		p.ctxs[i] = c
		p.free <- c
	}
	return p
}

// alloc takes a free context, blocking until one is released.
func (p *ctxPool) alloc() *cmdCtx {
	c := <-p.free
	p.mu.Lock()
	c.useCount = 1
	c.remoteID = frame.NoContext
	p.used++
	used := p.used
	p.mu.Unlock()
	p.notify(used)
	return c
}

// acquire reuses the task's context, or allocates a fresh one for a nil task.
func (p *ctxPool) acquire(t *Task) *cmdCtx {
	if t == nil || t.ctx == nil {
		return p.alloc()
	}
	p.mu.Lock()
	t.ctx.useCount++
	p.mu.Unlock()
	return t.ctx
}

// release drops one use and returns the context to the pool when none remain.
func (p *ctxPool) release(c *cmdCtx) {
	p.mu.Lock()
	c.useCount--
	if c.useCount > 0 {
		p.mu.Unlock()
		return
	}
	c.useCount = 0
	c.remoteID = frame.NoContext
	p.used--
	used := p.used
	p.mu.Unlock()
	p.notify(used)
	drain(c)
	p.free <- c
}

// drain drops packets that arrived for a chain after it stopped waiting.
func drain(c *cmdCtx) {
	for {
		select {
		case pkt := <-c.mailbox:
			pkt.DecodingDone()
		default:
			return
		}
	}
}

// active returns the context with id if some call chain currently holds it.
func (p *ctxPool) active(id uint8) *cmdCtx {
	if int(id) >= len(p.ctxs) {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.ctxs[id]
	if c.useCount == 0 {
		return nil
	}
	return c
}

func (p *ctxPool) inUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used
}

func (p *ctxPool) notify(used int) {
	if p.onChange != nil {
		p.onChange(used)
	}
}
