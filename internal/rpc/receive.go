package rpc

import (
	"fmt"

	"github.com/danmuck/ipcmux/internal/observability"
	"github.com/danmuck/ipcmux/internal/protocol"
	"github.com/danmuck/ipcmux/internal/protocol/frame"
	"github.com/danmuck/ipcmux/internal/transport"
)

// receive runs on the transport's receive goroutine. It never sends: anything that may
// block on transmit buffers is handed to a worker, a waiting context, or a goroutine,
// because buffer releases from the peer arrive on this same goroutine.
func (r *RPC) receive(buf transport.Buffer) {
	hdr, err := frame.DecodeHeader(buf.Data)
	if err != nil {
		if r.tr.RetainsRx() {
			r.tr.FreeRx(buf)
		}
		r.report(&Error{
			Code:   protocol.CodeBadMessage,
			Source: SourceRecv,
			Type:   frame.TypeCMD,
			Err:    err,
			dst:    frame.NoContext,
		})
		return
	}
	observability.RecordPacket(r.cfg.Node, "rx", hdr.Type.String())

	p := &Packet{
		Type: hdr.Type,
		ID:   hdr.ID,
		Data: buf.Data[frame.HeaderLen:],
		hdr:  hdr,
		buf:  buf,
		rpc:  r,
	}
	if !r.tr.RetainsRx() {
		p.done = make(chan struct{})
	}

	switch hdr.Type {
	case frame.TypeINIT:
		r.receiveInit(p)
	case frame.TypeACK:
		r.receiveAck(p)
	case frame.TypeERR:
		if c := r.pool.active(hdr.Dst); c != nil {
			r.deliver(c, p)
			break
		}
		r.receiveErr(p)
	case frame.TypeRSP:
		c := r.pool.active(hdr.Dst)
		if c == nil {
			p.DecodingDone()
			r.fault(fmt.Errorf("%w: dst=%d group=%d", ErrUnexpectedResponse, hdr.Dst, hdr.Group))
			return
		}
		r.deliver(c, p)
	case frame.TypeCMD:
		if c := r.pool.active(hdr.Dst); c != nil {
			r.deliver(c, p)
			break
		}
		if !r.workers.submit(func() { r.serveCommand(p) }) {
			p.DecodingDone()
		}
	case frame.TypeEVT:
		if !r.workers.submit(func() { r.serveEvent(p) }) {
			p.DecodingDone()
		}
	}

	if p.done != nil {
		select {
		case <-p.done:
		case <-r.quit:
		}
	}
}

func (r *RPC) receiveInit(p *Packet) {
	in, err := frame.DecodeInit(p.Data)
	p.DecodingDone()
	if err != nil {
		r.report(&Error{Code: protocol.CodeBadMessage, Source: SourceRecv, Type: frame.TypeINIT, Err: err, dst: frame.NoContext})
		return
	}
	select {
	case r.peerInit <- in:
	default:
		r.log.Warn().Msg("duplicate init from peer dropped")
	}
}

func (r *RPC) receiveAck(p *Packet) {
	id := p.hdr.ID
	g := r.group(p.hdr.Group)
	p.DecodingDone()
	r.releaseRemote()
	if g != nil && g.OnAck != nil {
		g.OnAck(g, id)
	}
}

// receiveErr surfaces an ERR no context is waiting for.
func (r *RPC) receiveErr(p *Packet) {
	e := r.remoteError(p)
	p.DecodingDone()
	r.report(e)
}

func (r *RPC) remoteError(p *Packet) *Error {
	e := &Error{
		Code:   protocol.CodeBadMessage,
		Source: SourceRemote,
		Group:  r.group(p.hdr.Group),
		ID:     p.hdr.ID,
		Type:   frame.TypeERR,
	}
	code, err := frame.DecodeErrCode(p.Data)
	if err != nil {
		e.Err = err
		return e
	}
	e.Code = protocol.Code(code)
	return e
}

// deliver queues p for the goroutine waiting on c.
func (r *RPC) deliver(c *cmdCtx, p *Packet) {
	select {
	case c.mailbox <- p:
	case <-r.quit:
		p.DecodingDone()
	}
}

// serveCommand runs a command no local context was waiting for on a fresh context.
func (r *RPC) serveCommand(p *Packet) {
	c := r.pool.alloc()
	defer r.pool.release(c)
	r.executeCommand(c, p)
}

// executeCommand runs the decoder for p on c. It is called from a worker or inline from a
// context already waiting on its own call.
func (r *RPC) executeCommand(c *cmdCtx, p *Packet) {
	hdr := p.hdr
	c.remoteID = hdr.Src
	g := r.group(hdr.Group)
	if g == nil {
		p.DecodingDone()
		r.report(&Error{Code: protocol.CodeNotFound, Source: SourceRecv, Type: frame.TypeCMD, ID: hdr.ID,
			Err: fmt.Errorf("%w: group %d", protocol.ErrNotFound, hdr.Group), dst: hdr.Src})
		return
	}
	h, ok := g.Commands[hdr.ID]
	if !ok || h == nil {
		p.DecodingDone()
		r.report(&Error{Code: protocol.CodeNotFound, Source: SourceRecv, Group: g, Type: frame.TypeCMD, ID: hdr.ID,
			Err: fmt.Errorf("%w: command %d", protocol.ErrNotFound, hdr.ID), dst: hdr.Src})
		return
	}
	p.Group = g
	p.Task = &Task{ctx: c}
	h(p)
	p.DecodingDone()
}

// serveEvent runs an event decoder and acknowledges the event whether or not a decoder
// existed, so the peer always gets its worker slot back.
func (r *RPC) serveEvent(p *Packet) {
	hdr := p.hdr
	g := r.group(hdr.Group)
	var h Handler
	if g != nil {
		h = g.Events[hdr.ID]
	}
	if h == nil {
		p.DecodingDone()
		r.report(&Error{Code: protocol.CodeNotFound, Source: SourceRecv, Group: g, Type: frame.TypeEVT, ID: hdr.ID,
			Err: fmt.Errorf("%w: event %d group %d", protocol.ErrNotFound, hdr.ID, hdr.Group), dst: frame.NoContext})
	} else {
		p.Group = g
		h(p)
		p.DecodingDone()
	}
	r.sendControl(frame.Header{Type: frame.TypeACK, ID: hdr.ID, Dst: frame.NoContext, Group: hdr.Group}, nil)
}

// sendControl sends an ACK or ERR packet; failures are only logged.
func (r *RPC) sendControl(hdr frame.Header, payload []byte) {
	b, err := r.allocRaw(len(payload))
	if err == nil {
		copy(b.Payload, payload)
		err = r.send(hdr, b)
	}
	if err != nil {
		r.log.Warn().Err(err).Str("type", hdr.Type.String()).Uint8("dst", hdr.Dst).Msg("control packet not sent")
	}
}

func (r *RPC) fault(err error) {
	r.log.Error().Err(err).Msg("protocol fault")
	observability.RecordRPCError(r.cfg.Node, "fault")
	r.cfg.Fault(err)
}
