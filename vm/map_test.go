package vm

import (
	"fmt"
	"math"
	"testing"
)

func TestMapSetGet(t *testing.T) {
	v := NewVM(nil)
	defer v.Free()

	m := v.newMap()
	key := ObjectValue(v.newString("name"))

	if got := m.Get(key); !got.IsUndefined() {
		t.Fatalf("Get on empty map = %v, want undefined", got)
	}

	m.Set(v, key, NumberValue(1))
	m.Set(v, ObjectValue(v.newString("name")), NumberValue(2))
	if m.Count != 1 {
		t.Errorf("Count = %d after overwrite, want 1", m.Count)
	}
	if got := m.Get(key); got.AsNumber() != 2 {
		t.Errorf("Get = %v, want 2", got.AsNumber())
	}
	if len(m.Entries) != mapMinCapacity {
		t.Errorf("capacity = %d, want %d", len(m.Entries), mapMinCapacity)
	}

	m.Set(v, NumberValue(0), True)
	if got := m.Get(NumberValue(math.Copysign(0, -1))); !IsSame(got, True) {
		t.Errorf("Get(-0) = %v, want true", got)
	}
	if got := m.Get(ObjectValue(v.newList(0))); !got.IsUndefined() {
		t.Error("unhashable key found an entry")
	}
}

func TestMapGrowsByLoadFactor(t *testing.T) {
	v := NewVM(nil)
	defer v.Free()

	m := v.newMap()
	for i := 0; i < 100; i++ {
		m.Set(v, NumberValue(float64(i)), NumberValue(float64(i*i)))
	}
	if m.Count != 100 {
		t.Fatalf("Count = %d, want 100", m.Count)
	}
	capacity := len(m.Entries)
	if capacity&(capacity-1) != 0 {
		t.Errorf("capacity %d is not a power of two", capacity)
	}
	if m.Count > capacity*mapLoadPercent/100 {
		t.Errorf("count %d exceeds the load factor of capacity %d", m.Count, capacity)
	}
	for i := 0; i < 100; i++ {
		if got := m.Get(NumberValue(float64(i))); got.AsNumber() != float64(i*i) {
			t.Errorf("Get(%d) = %v, want %d", i, got.AsNumber(), i*i)
		}
	}
}

func TestMapRemoveLeavesTombstones(t *testing.T) {
	v := NewVM(nil)
	defer v.Free()

	m := v.newMap()
	keys := make([]Value, 100)
	for i := range keys {
		keys[i] = ObjectValue(v.newString(fmt.Sprintf("key%d", i)))
		m.Set(v, keys[i], NumberValue(float64(i)))
	}

	for i := 0; i < 100; i += 2 {
		if got := m.Remove(v, keys[i]); got.AsNumber() != float64(i) {
			t.Errorf("Remove(key%d) = %v, want %d", i, got.AsNumber(), i)
		}
	}
	if m.Count != 50 {
		t.Fatalf("Count = %d, want 50", m.Count)
	}

	// Odd keys must still be reachable past the tombstones.
	for i := 1; i < 100; i += 2 {
		if got := m.Get(keys[i]); got.AsNumber() != float64(i) {
			t.Errorf("Get(key%d) = %v, want %d", i, got, i)
		}
	}
	for i := 0; i < 100; i += 2 {
		if got := m.Get(keys[i]); !got.IsUndefined() {
			t.Errorf("removed key%d still maps to %v", i, got)
		}
	}

	if got := m.Remove(v, keys[0]); !got.IsUndefined() {
		t.Errorf("Remove of a missing key = %v, want undefined", got)
	}
}

func TestMapRemoveLastEntryClears(t *testing.T) {
	v := NewVM(nil)
	defer v.Free()

	m := v.newMap()
	key := ObjectValue(v.newString("only"))
	m.Set(v, key, Null)
	m.Remove(v, key)

	if m.Count != 0 || m.Entries != nil {
		t.Errorf("map after removing its only entry: count=%d entries=%d", m.Count, len(m.Entries))
	}

	m.Set(v, key, True)
	if !IsSame(m.Get(key), True) {
		t.Error("map is unusable after being cleared")
	}
}

func TestMapShrinks(t *testing.T) {
	v := NewVM(nil)
	defer v.Free()

	m := v.newMap()
	for i := 0; i < 64; i++ {
		m.Set(v, NumberValue(float64(i)), Null)
	}
	grown := len(m.Entries)
	for i := 0; i < 60; i++ {
		m.Remove(v, NumberValue(float64(i)))
	}
	if len(m.Entries) >= grown {
		t.Errorf("capacity = %d after removals, want less than %d", len(m.Entries), grown)
	}
	for i := 60; i < 64; i++ {
		if m.Get(NumberValue(float64(i))).IsUndefined() {
			t.Errorf("key %d lost after shrinking", i)
		}
	}
}

func TestMapEachAndClear(t *testing.T) {
	v := NewVM(nil)
	defer v.Free()

	m := v.newMap()
	for i := 0; i < 10; i++ {
		m.Set(v, NumberValue(float64(i)), NumberValue(1))
	}

	sum := 0.0
	m.Each(func(_, value Value) bool {
		sum += value.AsNumber()
		return true
	})
	if sum != 10 {
		t.Errorf("sum over entries = %v, want 10", sum)
	}

	seen := 0
	m.Each(func(_, _ Value) bool {
		seen++
		return seen < 3
	})
	if seen != 3 {
		t.Errorf("Each visited %d entries after stop, want 3", seen)
	}

	m.Clear(v)
	if m.Count != 0 || len(m.Entries) != 0 {
		t.Errorf("Clear left count=%d entries=%d", m.Count, len(m.Entries))
	}
}
