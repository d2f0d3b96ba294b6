package market

import (
	"math"
	"testing"
	"time"

	"sentrycoin/pkg/types"
)

func newSeededBook(t *testing.T) *Book {
	t.Helper()
	b := NewBook("ETHUSDT")
	err := b.ApplySnapshot(&types.DepthSnapshot{
		LastUpdateID: 100,
		Bids: [][2]string{
			{"3500.00", "10"},
			{"3499.50", "20"},
		},
		Asks: [][2]string{
			{"3500.50", "15"},
			{"3501.00", "25"},
		},
	})
	if err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}
	return b
}

func TestApplySnapshot(t *testing.T) {
	t.Parallel()
	b := newSeededBook(t)

	mid, ok := b.MidPrice()
	if !ok {
		t.Fatal("MidPrice returned ok=false after snapshot")
	}
	if mid != 3500.25 {
		t.Errorf("mid = %v, want 3500.25", mid)
	}
	if b.LastUpdateID() != 100 {
		t.Errorf("lastUpdateID = %d, want 100", b.LastUpdateID())
	}
}

func TestApplyDeltaReplacesAndRemoves(t *testing.T) {
	t.Parallel()
	b := newSeededBook(t)

	applied, err := b.ApplyDelta(types.DepthUpdate{
		FinalUpdateID: 101,
		EventTime:     time.Now().UnixMilli(),
		Bids:          [][2]string{{"3500.00", "5"}},  // replace
		Asks:          [][2]string{{"3500.50", "0"}},  // remove
	})
	if err != nil || !applied {
		t.Fatalf("ApplyDelta: applied=%v err=%v", applied, err)
	}

	snap := b.Snapshot(50)
	if got := snap.Bids[0].Qty.String(); got != "5" {
		t.Errorf("best bid qty = %s, want 5 (replaced)", got)
	}
	if got := snap.Asks[0].Price.String(); got != "3501" {
		t.Errorf("best ask = %s, want 3501 (level removed)", got)
	}
}

func TestApplyDeltaDropsStaleUpdateID(t *testing.T) {
	t.Parallel()
	b := newSeededBook(t)

	// Same updateID twice: first real, second must be a no-op.
	delta := types.DepthUpdate{
		FinalUpdateID: 101,
		Bids:          [][2]string{{"3499.50", "0"}},
	}
	if applied, _ := b.ApplyDelta(delta); !applied {
		t.Fatal("first delta should apply")
	}
	before := b.Snapshot(50)

	if applied, _ := b.ApplyDelta(delta); applied {
		t.Error("repeated updateID must be dropped")
	}
	after := b.Snapshot(50)
	if len(before.Bids) != len(after.Bids) || len(before.Asks) != len(after.Asks) {
		t.Error("dropped delta must leave the book unchanged")
	}

	// Anything at or below lastUpdateID is stale.
	if applied, _ := b.ApplyDelta(types.DepthUpdate{FinalUpdateID: 50}); applied {
		t.Error("delta with older updateID must be dropped")
	}
}

func TestSnapshotOrderingAndDepth(t *testing.T) {
	t.Parallel()
	b := NewBook("ETHUSDT")
	b.ApplySnapshot(&types.DepthSnapshot{
		LastUpdateID: 1,
		Bids:         [][2]string{{"3498", "1"}, {"3500", "1"}, {"3499", "1"}},
		Asks:         [][2]string{{"3503", "1"}, {"3501", "1"}, {"3502", "1"}},
	})

	snap := b.Snapshot(2)
	if len(snap.Bids) != 2 || len(snap.Asks) != 2 {
		t.Fatalf("depth not applied: %d bids, %d asks", len(snap.Bids), len(snap.Asks))
	}
	if snap.Bids[0].Price.String() != "3500" || snap.Bids[1].Price.String() != "3499" {
		t.Error("bids must be sorted descending")
	}
	if snap.Asks[0].Price.String() != "3501" || snap.Asks[1].Price.String() != "3502" {
		t.Error("asks must be sorted ascending")
	}
}

func TestPressure(t *testing.T) {
	t.Parallel()
	b := NewBook("ETHUSDT")
	b.ApplySnapshot(&types.DepthSnapshot{
		LastUpdateID: 1,
		Bids:         [][2]string{{"3500", "10"}, {"3499", "10"}},
		Asks:         [][2]string{{"3501", "30"}},
	})

	if p := b.Pressure(50); math.Abs(p-1.5) > 1e-12 {
		t.Errorf("pressure = %v, want 1.5", p)
	}
}

func TestPressureZeroBidVolume(t *testing.T) {
	t.Parallel()
	b := NewBook("ETHUSDT")
	b.ApplySnapshot(&types.DepthSnapshot{
		LastUpdateID: 1,
		Asks:         [][2]string{{"3501", "30"}},
	})

	if p := b.Pressure(50); p != 0 {
		t.Errorf("pressure = %v, want 0 for empty bid side", p)
	}
}

func TestResetClearsSequence(t *testing.T) {
	t.Parallel()
	b := newSeededBook(t)
	b.Reset()

	if b.LastUpdateID() != 0 {
		t.Error("Reset must clear lastUpdateID")
	}
	if _, ok := b.MidPrice(); ok {
		t.Error("Reset must clear levels")
	}
}

func TestMomentumWindow(t *testing.T) {
	t.Parallel()
	m := NewMomentumWindow(5 * time.Minute)
	base := time.Now()

	if m.Momentum() != 0 {
		t.Error("empty window momentum must be 0")
	}
	m.Add(3500, base)
	if m.Momentum() != 0 {
		t.Error("single-point momentum must be 0")
	}

	m.Add(3465, base.Add(time.Minute))
	want := (3465.0 - 3500.0) / 3500.0 * 100
	if got := m.Momentum(); math.Abs(got-want) > 1e-12 {
		t.Errorf("momentum = %v, want %v", got, want)
	}
}

func TestMomentumWindowEviction(t *testing.T) {
	t.Parallel()
	m := NewMomentumWindow(5 * time.Minute)
	base := time.Now()

	m.Add(1000, base)
	m.Add(2000, base.Add(time.Minute))
	// Ten minutes later the first two points are out of the window.
	m.Add(2100, base.Add(10*time.Minute))
	m.Add(2200, base.Add(10*time.Minute+time.Second))

	want := (2200.0 - 2100.0) / 2100.0 * 100
	if got := m.Momentum(); math.Abs(got-want) > 1e-9 {
		t.Errorf("momentum after eviction = %v, want %v", got, want)
	}
}
