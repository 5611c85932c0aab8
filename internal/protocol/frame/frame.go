package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	HeaderLen = 4
	// InitPayloadLen is the size of the INIT body.
	InitPayloadLen = 7
	// ErrPayloadLen is the size of the ERR body.
	ErrPayloadLen = 4

	ProtocolVersion uint8 = 1

	// NoContext marks an unknown destination or absent source context.
	NoContext uint8 = 0xFF
	// NoGroup marks packets that do not belong to a registered group.
	NoGroup uint8 = 0xFF
	// MaxContextID is the largest context id the 7-bit source field can carry.
	MaxContextID uint8 = 0x7E

	srcFlag = 0x80
	srcMask = 0x7F
)

// Type is the packet type carried in the first header byte.
type Type uint8

const (
	TypeEVT  Type = 0x00
	TypeRSP  Type = 0x01
	TypeACK  Type = 0x02
	TypeERR  Type = 0x03
	TypeINIT Type = 0x04
	TypeCMD  Type = 0x80
)

func (t Type) String() string {
	switch t {
	case TypeEVT:
		return "evt"
	case TypeRSP:
		return "rsp"
	case TypeACK:
		return "ack"
	case TypeERR:
		return "err"
	case TypeINIT:
		return "init"
	case TypeCMD:
		return "cmd"
	default:
		return fmt.Sprintf("type(%#x)", uint8(t))
	}
}

var (
	ErrShortHeader  = errors.New("frame: short header")
	ErrUnknownType  = errors.New("frame: unknown packet type")
	ErrShortPayload = errors.New("frame: short payload")
	ErrBadSource    = errors.New("frame: source context out of range")
)

// Header is the fixed packet prefix. Src is only carried by commands.
type Header struct {
	Type  Type
	Src   uint8
	ID    uint8
	Dst   uint8
	Group uint8
}

// EncodeHeader writes h into the first HeaderLen bytes of dst.
func EncodeHeader(dst []byte, h Header) error {
	if len(dst) < HeaderLen {
		return ErrShortHeader
	}
	if h.Type == TypeCMD {
		if h.Src > srcMask {
			return fmt.Errorf("%w: %d", ErrBadSource, h.Src)
		}
		dst[0] = srcFlag | h.Src
	} else {
		dst[0] = uint8(h.Type)
	}
	dst[1] = h.ID
	dst[2] = h.Dst
	dst[3] = h.Group
	return nil
}

// DecodeHeader parses the packet prefix of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(b))
	}
	h := Header{ID: b[1], Dst: b[2], Group: b[3], Src: NoContext}
	if b[0]&srcFlag != 0 {
		h.Type = TypeCMD
		h.Src = b[0] & srcMask
		return h, nil
	}
	switch t := Type(b[0]); t {
	case TypeEVT, TypeRSP, TypeACK, TypeERR, TypeINIT:
		h.Type = t
	default:
		return Header{}, fmt.Errorf("%w: %#x", ErrUnknownType, b[0])
	}
	return h, nil
}

// Init is the INIT packet body exchanged once after the transport is up.
type Init struct {
	Version    uint8
	PoolDepth  uint8
	GroupCount uint8
	Checksum   uint32
}

func EncodeInit(dst []byte, in Init) error {
	if len(dst) < InitPayloadLen {
		return ErrShortPayload
	}
	dst[0] = in.Version
	dst[1] = in.PoolDepth
	dst[2] = in.GroupCount
	binary.LittleEndian.PutUint32(dst[3:7], in.Checksum)
	return nil
}

func DecodeInit(b []byte) (Init, error) {
	if len(b) < InitPayloadLen {
		return Init{}, fmt.Errorf("%w: init has %d bytes", ErrShortPayload, len(b))
	}
	return Init{
		Version:    b[0],
		PoolDepth:  b[1],
		GroupCount: b[2],
		Checksum:   binary.LittleEndian.Uint32(b[3:7]),
	}, nil
}

// EncodeErrCode writes the ERR body.
func EncodeErrCode(dst []byte, code int32) error {
	if len(dst) < ErrPayloadLen {
		return ErrShortPayload
	}
	binary.LittleEndian.PutUint32(dst[:4], uint32(code))
	return nil
}

func DecodeErrCode(b []byte) (int32, error) {
	if len(b) < ErrPayloadLen {
		return 0, fmt.Errorf("%w: err has %d bytes", ErrShortPayload, len(b))
	}
	return int32(binary.LittleEndian.Uint32(b[:4])), nil
}
