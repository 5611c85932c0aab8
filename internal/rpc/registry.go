package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2s"
)

// MaxGroups is the number of numeric group ids available; 0xFF marks "no group".
const MaxGroups = 255

var (
	ErrGroupExists    = errors.New("rpc: group already registered")
	ErrGroupNil       = errors.New("rpc: group is nil")
	ErrInvalidGroup   = errors.New("rpc: invalid group name")
	ErrTooManyGroups  = errors.New("rpc: too many groups")
	ErrRegistryFrozen = errors.New("rpc: registry is frozen")
)

// Handler decodes one incoming command, event or response. Handlers should copy what they
// need out of p.Data and call p.DecodingDone before issuing nested calls.
type Handler func(p *Packet)

// AckHandler observes the peer acknowledging event id of g.
type AckHandler func(g *Group, id uint8)

// ErrorHandler observes errors reported for a group or for the whole instance.
type ErrorHandler func(e *Error)

// Group is a named namespace of commands and events. Both peers must register the same
// group names in the same order.
type Group struct {
	Name     string
	Commands map[uint8]Handler
	Events   map[uint8]Handler
	OnAck    AckHandler
	OnError  ErrorHandler
	OnBound  func(g *Group)

	id uint8
}

// NewGroup returns an empty group named name.
func NewGroup(name string) *Group {
	return &Group{
		Name:     name,
		Commands: make(map[uint8]Handler),
		Events:   make(map[uint8]Handler),
	}
}

// HandleCommand installs the decoder for command id.
func (g *Group) HandleCommand(id uint8, h Handler) *Group {
	g.Commands[id] = h
	return g
}

// HandleEvent installs the decoder for event id.
func (g *Group) HandleEvent(id uint8, h Handler) *Group {
	g.Events[id] = h
	return g
}

// ID is the numeric id assigned when the owning instance initialized.
func (g *Group) ID() uint8 {
	return g.id
}

// Registry stores groups in registration order.
type Registry struct {
	mu     sync.RWMutex
	groups []*Group
	byName map[string]*Group
	frozen bool
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Group)}
}

// Register appends g. Groups cannot be added once an instance has initialized.
func (r *Registry) Register(g *Group) error {
	if g == nil {
		return ErrGroupNil
	}
	name := strings.TrimSpace(g.Name)
	if !isValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidGroup, g.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("%w: %s", ErrGroupExists, name)
	}
	if len(r.groups) >= MaxGroups {
		return ErrTooManyGroups
	}
	if g.Commands == nil {
		g.Commands = make(map[uint8]Handler)
	}
	if g.Events == nil {
		g.Events = make(map[uint8]Handler)
	}
	g.Name = name
	r.groups = append(r.groups, g)
	r.byName[name] = g
	return nil
}

// MustRegister registers each group and panics on the first failure.
func (r *Registry) MustRegister(groups ...*Group) *Registry {
	for _, g := range groups {
		if err := r.Register(g); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) Resolve(name string) (*Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.byName[name]
	return g, ok
}

// Groups returns the groups in registration order.
func (r *Registry) Groups() []*Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Group, len(r.groups))
	copy(out, r.groups)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}

// Checksum digests the group count and every name in order. Peers with different
// registrations disagree on it.
func (r *Registry) Checksum() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, _ := blake2s.New256(nil)
	h.Write([]byte{byte(len(r.groups))})
	for _, g := range r.groups {
		h.Write([]byte{byte(len(g.Name))})
		h.Write([]byte(g.Name))
	}
	return binary.LittleEndian.Uint32(h.Sum(nil)[:4])
}

// freeze assigns numeric ids in registration order and rejects later registrations.
func (r *Registry) freeze() []*Group {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.frozen {
		for i, g := range r.groups {
			g.id = uint8(i)
		}
		r.frozen = true
	}
	out := make([]*Group, len(r.groups))
	copy(out, r.groups)
	return out
}

func isValidName(id string) bool {
	if id == "" || len(id) > 255 {
		return false
	}
	lastSep := false
	for i := 0; i < len(id); i++ {
		c := id[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '.' || c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if i == 0 || i == len(id)-1 {
			if isSep {
				return false
			}
		}
		if isSep && lastSep {
			return false
		}
		lastSep = isSep
	}
	return true
}
