package rpc

import (
	"errors"
	"fmt"

	"github.com/danmuck/ipcmux/internal/protocol"
	"github.com/danmuck/ipcmux/internal/protocol/frame"
)

var (
	ErrNotInitialized     = errors.New("rpc: instance not initialized")
	ErrAlreadyInitialized = errors.New("rpc: instance already initialized")
	ErrIncompatiblePeer   = errors.New("rpc: peer registered a different group set")
	ErrUnexpectedResponse = errors.New("rpc: response for a context that is not waiting")
	ErrNoTask             = errors.New("rpc: response needs the task of the command being served")
	ErrClosed             = errors.New("rpc: instance closed")
)

// Source says where an error was observed.
type Source int

const (
	// SourceLocal is a failure of a local API call.
	SourceLocal Source = iota
	// SourceRecv is a failure while processing a packet from the peer; it is echoed back.
	SourceRecv
	// SourceRemote is an error the peer reported in an ERR packet.
	SourceRemote
	// SourceSend is a transport failure in a call variant that does not return errors.
	SourceSend
)

func (s Source) String() string {
	switch s {
	case SourceRecv:
		return "recv"
	case SourceRemote:
		return "remote"
	case SourceSend:
		return "send"
	default:
		return "local"
	}
}

// Error is the single error shape passed to group and instance error handlers.
type Error struct {
	Code   protocol.Code
	Source Source
	Group  *Group
	ID     uint8
	Type   frame.Type
	Err    error

	// dst is the peer context an echoed ERR is addressed to.
	dst uint8
}

func (e *Error) Error() string {
	group := "-"
	if e.Group != nil {
		group = e.Group.Name
	}
	msg := fmt.Sprintf("rpc: %s error %d group=%s type=%s id=%d", e.Source, int32(e.Code), group, e.Type, e.ID)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Code.Err()
}

func (e *Error) ErrCode() protocol.Code {
	return e.Code
}

// IsRemote reports whether err carries an error the peer reported.
func IsRemote(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Source == SourceRemote
}
