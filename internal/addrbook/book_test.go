package addrbook

import (
	"os"
	"path/filepath"
	"testing"
)

func TestUpdateAndLookup(t *testing.T) {
	b := New()
	b.Update(0x1234, 0x0001, 0x00124B0000000001, 10, OriginAssoc)

	if got, ok := b.Extended(0x1234, 0x0001); !ok || got != 0x00124B0000000001 {
		t.Fatalf("Extended = %x, %v", got, ok)
	}
	if pan, short, ok := b.Short(0x00124B0000000001); !ok || pan != 0x1234 || short != 0x0001 {
		t.Fatalf("Short = %04x/%04x, %v", pan, short, ok)
	}
	if _, ok := b.Extended(0x1234, 0x0002); ok {
		t.Fatal("lookup of unknown short address succeeded")
	}
	if _, ok := b.Extended(0x9999, 0x0001); ok {
		t.Fatal("PAN is not part of the key")
	}
}

func TestUpdateSameExtendedNoOp(t *testing.T) {
	b := New()
	b.Update(0x1234, 0x0001, 0xAA, 10, OriginAssoc)
	b.Update(0x1234, 0x0001, 0xAA, 20, OriginAssoc)

	recs := b.Export()
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if recs[0].StartFrame != 10 || recs[0].EndFrame != 0 {
		t.Fatalf("record lifetime %d-%d, want 10-current", recs[0].StartFrame, recs[0].EndFrame)
	}
}

func TestUpdateRebindClosesOld(t *testing.T) {
	b := New()
	b.Update(0x1234, 0x0001, 0xAA, 10, OriginAssoc)
	// Same short address handed to a different device.
	b.Update(0x1234, 0x0001, 0xBB, 25, OriginAssoc)

	if got, _ := b.Extended(0x1234, 0x0001); got != 0xBB {
		t.Fatalf("Extended = %x, want BB", got)
	}
	// The displaced device's record is closed but still resolvable.
	if pan, short, ok := b.Short(0xAA); !ok || pan != 0x1234 || short != 0x0001 {
		t.Fatalf("Short(AA) = %04x/%04x, %v", pan, short, ok)
	}
	recs := b.Export()
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].EndFrame != 25 {
		t.Fatalf("old record closed at %d, want 25", recs[0].EndFrame)
	}
	if b.Len() != 1 {
		t.Fatalf("Len = %d, want 1", b.Len())
	}
}

func TestDeviceMovesShortAddress(t *testing.T) {
	b := New()
	b.Update(0x1234, 0x0001, 0xAA, 10, OriginAssoc)
	// Realignment gives the same device a new short address.
	b.Update(0x1234, 0x0002, 0xAA, 30, OriginRealign)

	if got, _ := b.Extended(0x1234, 0x0002); got != 0xAA {
		t.Fatalf("Extended = %x, want AA", got)
	}
	// The stale short address keeps resolving to its closed record.
	if got, ok := b.Extended(0x1234, 0x0001); !ok || got != 0xAA {
		t.Fatalf("Extended(old short) = %x, %v", got, ok)
	}
	if recs := b.Export(); recs[0].EndFrame != 30 {
		t.Fatalf("old record closed at %d, want 30", recs[0].EndFrame)
	}
	if pan, short, _ := b.Short(0xAA); pan != 0x1234 || short != 0x0002 {
		t.Fatalf("Short = %04x/%04x, want 1234/0002", pan, short)
	}
}

func TestInvalidate(t *testing.T) {
	b := New()
	b.Update(0x1234, 0x0001, 0xAA, 10, OriginAssoc)
	b.InvalidateLong(0xAA, 40)

	// Invalidation closes the record in place; later frames still
	// resolve the mapping.
	if got, ok := b.Extended(0x1234, 0x0001); !ok || got != 0xAA {
		t.Fatalf("lookup after invalidate = %x, %v; the latest record must keep resolving", got, ok)
	}
	if recs := b.Export(); recs[0].EndFrame != 40 {
		t.Fatalf("record closed at %d, want 40", recs[0].EndFrame)
	}
	if b.Len() != 0 {
		t.Fatalf("Len = %d, want 0 open bindings", b.Len())
	}

	b.Update(0x1234, 0x0005, 0xCC, 50, OriginAssoc)
	b.InvalidateShort(0x1234, 0x0005, 60)
	if pan, short, ok := b.Short(0xCC); !ok || pan != 0x1234 || short != 0x0005 {
		t.Fatalf("Short after invalidate = %04x/%04x, %v", pan, short, ok)
	}
	if recs := b.Export(); recs[1].EndFrame != 60 {
		t.Fatalf("record closed at %d, want 60", recs[1].EndFrame)
	}
}

func TestStoreSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "addr.db")

	s, err := OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}
	b := New()
	b.Update(0x1234, 0x0001, 0xAA, 10, OriginAssoc)
	b.Update(0x1234, 0x0002, 0xBB, 12, OriginAssoc)
	b.InvalidateLong(0xBB, 20)
	if err := s.Save(b); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}

	s, err = OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	fresh := New()
	if err := s.Load(fresh); err != nil {
		t.Fatal(err)
	}
	if got, ok := fresh.Extended(0x1234, 0x0001); !ok || got != 0xAA {
		t.Fatalf("loaded Extended = %x, %v", got, ok)
	}
	// Closed bindings are not resurrected.
	if _, ok := fresh.Extended(0x1234, 0x0002); ok {
		t.Fatal("closed binding came back from the snapshot")
	}
}
