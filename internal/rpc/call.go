package rpc

import (
	"fmt"
	"time"

	"github.com/danmuck/ipcmux/internal/observability"
	"github.com/danmuck/ipcmux/internal/protocol"
	"github.com/danmuck/ipcmux/internal/protocol/frame"
)

// Cmd sends command id of g and blocks until the response arrives, then runs handler on it.
// The buffer is consumed. Pass the Task of the command being served to issue a nested
// call on the same context; pass nil otherwise.
func (r *RPC) Cmd(task *Task, g *Group, id uint8, b *Buffer, handler Handler) error {
	return r.cmd(task, g, id, b, func(p *Packet) {
		if handler != nil {
			handler(p)
		}
		p.DecodingDone()
	})
}

// CmdRsp sends command id of g and returns the response packet. The caller must call
// DecodingDone on it once the payload has been copied out, and before issuing another call.
func (r *RPC) CmdRsp(task *Task, g *Group, id uint8, b *Buffer) (*Packet, error) {
	var rsp *Packet
	err := r.cmd(task, g, id, b, func(p *Packet) { rsp = p })
	if err != nil {
		return nil, err
	}
	return rsp, nil
}

// CmdNoErr is Cmd with failures routed to the error handlers instead of returned.
func (r *RPC) CmdNoErr(task *Task, g *Group, id uint8, b *Buffer, handler Handler) {
	if err := r.Cmd(task, g, id, b, handler); err != nil {
		r.reportSend(err, g, id, frame.TypeCMD)
	}
}

// CmdRspNoErr is CmdRsp with failures routed to the error handlers. It returns nil on failure.
func (r *RPC) CmdRspNoErr(task *Task, g *Group, id uint8, b *Buffer) *Packet {
	rsp, err := r.CmdRsp(task, g, id, b)
	if err != nil {
		r.reportSend(err, g, id, frame.TypeCMD)
		return nil
	}
	return rsp
}

// Evt sends event id of g. It blocks while the peer's worker pool has no free slot; the
// slot comes back with the peer's ACK.
func (r *RPC) Evt(g *Group, id uint8, b *Buffer) error {
	if err := r.checkCall(g, id, b, frame.TypeEVT); err != nil {
		return err
	}
	if err := r.reserveRemote(); err != nil {
		r.Free(b)
		return err
	}
	hdr := frame.Header{Type: frame.TypeEVT, ID: id, Dst: frame.NoContext, Group: g.id}
	if err := r.send(hdr, b); err != nil {
		r.releaseRemote()
		return err
	}
	return nil
}

// EvtNoErr is Evt with failures routed to the error handlers.
func (r *RPC) EvtNoErr(g *Group, id uint8, b *Buffer) {
	if err := r.Evt(g, id, b); err != nil {
		r.reportSend(err, g, id, frame.TypeEVT)
	}
}

// Rsp answers the command being served on task.
func (r *RPC) Rsp(task *Task, g *Group, b *Buffer) error {
	if task == nil || task.ctx == nil {
		r.Free(b)
		return ErrNoTask
	}
	if err := r.checkCall(g, 0, b, frame.TypeRSP); err != nil {
		return err
	}
	hdr := frame.Header{Type: frame.TypeRSP, Dst: task.ctx.remoteID, Group: g.id}
	return r.send(hdr, b)
}

func (r *RPC) cmd(task *Task, g *Group, id uint8, b *Buffer, onRsp func(*Packet)) error {
	if err := r.checkCall(g, id, b, frame.TypeCMD); err != nil {
		return err
	}
	start := time.Now()
	c := r.pool.acquire(task)
	defer r.pool.release(c)

	dst := c.remoteID
	reserved := dst == frame.NoContext
	if reserved {
		if err := r.reserveRemote(); err != nil {
			r.Free(b)
			return err
		}
	}
	hdr := frame.Header{Type: frame.TypeCMD, Src: c.id, ID: id, Dst: dst, Group: g.id}
	err := r.send(hdr, b)
	if err == nil {
		err = r.wait(c, onRsp)
	}
	if reserved {
		r.releaseRemote()
	}
	observability.RecordCall(r.cfg.Node, g.Name, time.Since(start))
	return err
}

// wait blocks on c's mailbox until the response arrives. Commands the peer addresses to c
// meanwhile are nested calls and run inline on this goroutine.
func (r *RPC) wait(c *cmdCtx, onRsp func(*Packet)) error {
	for {
		var p *Packet
		select {
		case <-r.quit:
			return ErrClosed
		case p = <-c.mailbox:
		}
		switch p.hdr.Type {
		case frame.TypeRSP:
			p.Group = r.group(p.hdr.Group)
			onRsp(p)
			return nil
		case frame.TypeERR:
			e := r.remoteError(p)
			p.DecodingDone()
			r.report(e)
			return e
		case frame.TypeCMD:
			r.executeCommand(c, p)
		default:
			p.DecodingDone()
			r.log.Warn().Str("type", p.hdr.Type.String()).Uint8("ctx", c.id).Msg("unexpected packet in mailbox")
		}
	}
}

// checkCall validates an outgoing call and frees b when it cannot be sent.
func (r *RPC) checkCall(g *Group, id uint8, b *Buffer, t frame.Type) error {
	if b == nil {
		return &Error{Code: protocol.CodeInvalid, Source: SourceLocal, Group: g, ID: id, Type: t, Err: fmt.Errorf("%w: nil buffer", protocol.ErrInvalid)}
	}
	if r.closed.Load() {
		r.Free(b)
		return ErrClosed
	}
	// responses may be owed to a peer that finished Init first
	if t != frame.TypeRSP && !r.ready.Load() {
		r.Free(b)
		return ErrNotInitialized
	}
	if g == nil || r.group(g.id) != g {
		r.Free(b)
		return &Error{Code: protocol.CodeInvalid, Source: SourceLocal, Group: g, ID: id, Type: t, Err: ErrInvalidGroup}
	}
	return nil
}

// reportSend routes a failed NoErr call to the error handlers. Remote errors were
// reported when they arrived.
func (r *RPC) reportSend(err error, g *Group, id uint8, t frame.Type) {
	if IsRemote(err) {
		return
	}
	r.report(&Error{Code: protocol.CodeOf(err), Source: SourceSend, Group: g, ID: id, Type: t, Err: err})
}
