package rpc

import (
	"github.com/danmuck/ipcmux/internal/observability"
	"github.com/danmuck/ipcmux/internal/protocol/frame"
)

// report is the single sink for protocol errors. Errors raised while processing a received
// packet are echoed to the peer as ERR, except ERR packets themselves. The group handler
// runs before the instance handler.
func (r *RPC) report(e *Error) {
	ev := r.log.Warn().
		Str("source", e.Source.String()).
		Int32("code", int32(e.Code)).
		Str("type", e.Type.String()).
		Uint8("id", e.ID)
	if e.Group != nil {
		ev = ev.Str("group", e.Group.Name)
	}
	ev.Err(e.Err).Msg("rpc error")
	observability.RecordRPCError(r.cfg.Node, e.Source.String())

	if e.Source == SourceRecv && e.Type != frame.TypeERR {
		group := frame.NoGroup
		if e.Group != nil {
			group = e.Group.id
		}
		payload := make([]byte, frame.ErrPayloadLen)
		_ = frame.EncodeErrCode(payload, int32(e.Code))
		hdr := frame.Header{Type: frame.TypeERR, ID: e.ID, Dst: e.dst, Group: group}
		// may run on the receive goroutine, which must not wait for transmit space
		go r.sendControl(hdr, payload)
	}

	if e.Group != nil && e.Group.OnError != nil {
		e.Group.OnError(e)
	}
	if r.cfg.OnError != nil {
		r.cfg.OnError(e)
	}
}
