package mailbox

import "testing"

func TestStoreRejectsEmpty(t *testing.T) {
	m := New()
	if m.Store(0x01, nil, 100) {
		t.Error("expected empty payload to be rejected")
	}
}

func TestStoreRejectsDuplicate(t *testing.T) {
	m := New()
	data := []byte("hello")
	if !m.Store(0x01, data, 100) {
		t.Fatal("expected first store to succeed")
	}
	if m.Store(0x02, data, 200) {
		t.Error("expected exact-byte duplicate to be rejected regardless of dest/time")
	}
}

func TestStoreFillsPersistentBeforeVolatile(t *testing.T) {
	m := New()
	m.Store(0x01, []byte("a"), 1)
	m.Store(0x02, []byte("b"), 2)
	if string(m.persistent[0].Data) != "a" || string(m.persistent[1].Data) != "b" {
		t.Fatalf("expected both persistent slots filled first: %+v", m.persistent)
	}
	m.Store(0x03, []byte("c"), 3)
	if string(m.volatile[0].Data) != "c" {
		t.Errorf("expected overflow into first volatile slot, got %+v", m.volatile[0])
	}
}

func TestStoreOverwritesOldestVolatileWhenFull(t *testing.T) {
	m := New()
	m.Store(0x01, []byte("p1"), 1)
	m.Store(0x02, []byte("p2"), 2)
	for i := 0; i < VolatileSlots; i++ {
		m.Store(byte(0x10+i), []byte{byte(i), byte(i)}, int64(10 + i))
	}
	// Volatile slots now timestamped 10,11,12,13; oldest is ts=10 (index 0).
	if !m.Store(0xFF, []byte("newest"), 100) {
		t.Fatal("expected store into full mailbox to succeed by overwrite")
	}
	if string(m.volatile[0].Data) != "newest" {
		t.Errorf("expected oldest volatile slot overwritten, got %+v", m.volatile[0])
	}
	// Persistent slots must be untouched.
	if string(m.persistent[0].Data) != "p1" || string(m.persistent[1].Data) != "p2" {
		t.Error("persistent slots should never be evicted once occupied")
	}
}

func TestCountForAndPopFor(t *testing.T) {
	m := New()
	m.Store(0x01, []byte("a"), 1)
	m.Store(0x01, []byte("b"), 2)
	m.Store(0x02, []byte("c"), 3)

	if got := m.CountFor(0x01); got != 2 {
		t.Errorf("CountFor: got %d want 2", got)
	}

	data := m.PopFor(0x01)
	if string(data) != "a" {
		t.Errorf("expected persistent-tier message popped first, got %q", data)
	}
	if got := m.CountFor(0x01); got != 1 {
		t.Errorf("CountFor after pop: got %d want 1", got)
	}

	if m.PopFor(0x99) != nil {
		t.Error("expected nil for unknown destination")
	}
}

func TestExpireOld(t *testing.T) {
	m := New()
	m.Store(0x01, []byte("stale"), 100)
	m.ExpireOld(100 + TTLSeconds + 1)
	if m.GetCount() != 0 {
		t.Error("expected stale message to expire")
	}
}

func TestGetCountAndTotalSlots(t *testing.T) {
	m := New()
	if m.GetTotalSlots() != PersistentSlots+VolatileSlots {
		t.Errorf("GetTotalSlots: got %d", m.GetTotalSlots())
	}
	m.Store(0x01, []byte("x"), 1)
	if m.GetCount() != 1 {
		t.Errorf("GetCount: got %d want 1", m.GetCount())
	}
}

func TestClear(t *testing.T) {
	m := New()
	m.Store(0x01, []byte("x"), 1)
	m.Clear()
	if m.GetCount() != 0 {
		t.Error("expected GetCount 0 after Clear")
	}
}
