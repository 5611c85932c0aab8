package rpc

import (
	"errors"
	"testing"

	"github.com/danmuck/ipcmux/internal/testutil/testlog"
)

func TestRegistryRegisterValidation(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry()
	if err := reg.Register(NewGroup("diag")); err != nil {
		t.Fatalf("register diag: %v", err)
	}
	if err := reg.Register(NewGroup("diag")); !errors.Is(err, ErrGroupExists) {
		t.Fatalf("expected ErrGroupExists, got %v", err)
	}
	for _, name := range []string{"", "Diag", "-diag", "diag-", "di..ag", "di ag"} {
		if err := reg.Register(NewGroup(name)); !errors.Is(err, ErrInvalidGroup) {
			t.Fatalf("name %q: expected ErrInvalidGroup, got %v", name, err)
		}
	}
	if err := reg.Register(nil); !errors.Is(err, ErrGroupNil) {
		t.Fatalf("expected ErrGroupNil, got %v", err)
	}
	if err := reg.Register(&Group{Name: "bare"}); err != nil {
		t.Fatalf("register group without tables: %v", err)
	}
	g, ok := reg.Resolve("bare")
	if !ok || g.Commands == nil || g.Events == nil {
		t.Fatalf("bare group tables not initialized: %+v", g)
	}
	if reg.Len() != 2 {
		t.Fatalf("len got=%d want=2", reg.Len())
	}
}

func TestRegistryChecksumTracksNamesAndOrder(t *testing.T) {
	testlog.Start(t)
	a := NewRegistry().MustRegister(NewGroup("diag"), NewGroup("bt.host"))
	b := NewRegistry().MustRegister(NewGroup("diag"), NewGroup("bt.host"))
	if a.Checksum() != b.Checksum() {
		t.Fatalf("identical registries disagree: %#x vs %#x", a.Checksum(), b.Checksum())
	}
	swapped := NewRegistry().MustRegister(NewGroup("bt.host"), NewGroup("diag"))
	if swapped.Checksum() == a.Checksum() {
		t.Fatalf("checksum ignores registration order")
	}
	// length prefixes keep split points apart
	split := NewRegistry().MustRegister(NewGroup("ab"), NewGroup("c"))
	joined := NewRegistry().MustRegister(NewGroup("a"), NewGroup("bc"))
	if split.Checksum() == joined.Checksum() {
		t.Fatalf("checksum ignores name boundaries")
	}
	if NewRegistry().Checksum() == a.Checksum() {
		t.Fatalf("empty registry matches populated one")
	}
}

func TestRegistryFreezeAssignsIDsInOrder(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry().MustRegister(NewGroup("one"), NewGroup("two"), NewGroup("three"))
	groups := reg.freeze()
	for i, g := range groups {
		if int(g.ID()) != i {
			t.Fatalf("group %s id got=%d want=%d", g.Name, g.ID(), i)
		}
	}
	if err := reg.Register(NewGroup("four")); !errors.Is(err, ErrRegistryFrozen) {
		t.Fatalf("expected ErrRegistryFrozen, got %v", err)
	}
}

func TestMustRegisterPanics(t *testing.T) {
	testlog.Start(t)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate group")
		}
	}()
	NewRegistry().MustRegister(NewGroup("x"), NewGroup("x"))
}
