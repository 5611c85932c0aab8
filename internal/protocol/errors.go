package protocol

import (
	"errors"
	"fmt"
)

// Code is a negative errno-style value carried in ERR packets and returned by calls.
type Code int32

const (
	CodeOK         Code = 0
	CodeNotFound   Code = -2
	CodeIO         Code = -5
	CodeNoMemory   Code = -12
	CodeInvalid    Code = -22
	CodeBadMessage Code = -74
)

var (
	ErrBadMessage = errors.New("protocol: malformed packet")
	ErrNotFound   = errors.New("protocol: unknown group or id")
	ErrNoMemory   = errors.New("protocol: out of buffer space")
	ErrIO         = errors.New("protocol: transport failure")
	ErrInvalid    = errors.New("protocol: invalid argument")
)

var codeErrors = map[Code]error{
	CodeNotFound:   ErrNotFound,
	CodeIO:         ErrIO,
	CodeNoMemory:   ErrNoMemory,
	CodeInvalid:    ErrInvalid,
	CodeBadMessage: ErrBadMessage,
}

// Err returns the sentinel for c, or a generic error for codes this build does not know.
func (c Code) Err() error {
	if c == CodeOK {
		return nil
	}
	if err, ok := codeErrors[c]; ok {
		return err
	}
	return fmt.Errorf("protocol: error code %d", int32(c))
}

func (c Code) String() string {
	if c == CodeOK {
		return "ok"
	}
	return c.Err().Error()
}

// CodeOf maps err onto the closest wire code. Unrecognized errors map to CodeIO.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var coder interface{ ErrCode() Code }
	if errors.As(err, &coder) {
		return coder.ErrCode()
	}
	for code, sentinel := range codeErrors {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeIO
}
