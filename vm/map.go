package vm

import (
	"math"
	"unsafe"
)

const (
	mapLoadPercent  = 75
	mapMinCapacity  = 8
	mapGrowFactor   = 2
	fnvOffsetBasis  = 2166136261
	fnvPrime        = 16777619
	hashNullSeed    = 1
	hashBoolSeed    = 2
	hashUndefSeed   = 3
	hashObjectShift = 4
)

// MapEntry is one slot of a map. A slot whose key is Undefined is empty
// when its value is False and a tombstone when its value is True.
type MapEntry struct {
	Key   Value
	Value Value
}

// Map is an open addressed hash map with linear probing. The capacity is
// zero or a power of two and at most 75% of it is in use.
type Map struct {
	objHeader
	Entries []MapEntry
	Count   int
}

// ---------------------------------------------------------------------------
// Hashing
// ---------------------------------------------------------------------------

// hashString is the 32 bit FNV-1a hash of s.
func hashString(s string) uint32 {
	hash := uint32(fnvOffsetBasis)
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= fnvPrime
	}
	return hash
}

// hashBits is Thomas Wang's 64 bit integer hash truncated to 30 bits.
func hashBits(hash uint64) uint32 {
	hash = ^hash + (hash << 18)
	hash ^= hash >> 31
	hash *= 21
	hash ^= hash >> 11
	hash += hash << 6
	hash ^= hash >> 22
	return uint32(hash & 0x3fffffff)
}

func hashNumber(n float64) uint32 {
	if n == 0 {
		n = 0 // +0 and -0 are equal keys
	}
	return hashBits(math.Float64bits(n))
}

// isHashable reports whether values of the object type can be map keys.
// Only immutable objects and classes hash.
func isHashable(t ObjectType) bool {
	return t == ObjString || t == ObjRange || t == ObjClass
}

// IsHashable reports whether v can be used as a map key.
func IsHashable(v Value) bool {
	return !v.IsObject() || isHashable(v.obj.header().typ)
}

func hashValue(v Value) uint32 {
	switch v.kind {
	case KindNull:
		return hashBits(hashNullSeed)
	case KindUndefined:
		return hashBits(hashUndefSeed)
	case KindBool:
		return hashBits(hashBoolSeed<<1 | uint64(v.num))
	case KindNumber:
		return hashNumber(v.num)
	}
	switch o := v.obj.(type) {
	case *String:
		return o.Hash
	case *Range:
		return hashNumber(o.From) ^ hashNumber(o.To)
	case *Class:
		return hashBits(uint64(uintptr(unsafe.Pointer(o))) >> hashObjectShift)
	}
	fatalf("hashing an unhashable %s", v.obj.header().typ)
	return 0
}

// ---------------------------------------------------------------------------
// Map operations
// ---------------------------------------------------------------------------

// findEntry returns the index of key, or the index where it should be
// inserted and false.
func (m *Map) findEntry(key Value) (int, bool) {
	capacity := len(m.Entries)
	if capacity == 0 || !IsHashable(key) {
		return -1, false
	}

	start := int(hashValue(key) % uint32(capacity))
	index := start
	tombstone := -1

	for {
		entry := &m.Entries[index]
		if entry.Key.IsUndefined() {
			if entry.Value.AsBool() {
				if tombstone == -1 {
					tombstone = index
				}
			} else {
				if tombstone != -1 {
					return tombstone, false
				}
				return index, false
			}
		} else if IsEqual(entry.Key, key) {
			return index, true
		}

		index = (index + 1) % capacity
		if index == start {
			break
		}
	}

	if tombstone == -1 {
		fatalf("map is full without tombstones")
	}
	return tombstone, false
}

func (m *Map) insertEntry(key, value Value) bool {
	index, found := m.findEntry(key)
	m.Entries[index].Value = value
	if found {
		return false
	}
	m.Entries[index].Key = key
	return true
}

func (m *Map) resize(vm *VM, capacity int) {
	old := m.Entries
	vm.reallocate(len(old)*sizeOf[MapEntry](), capacity*sizeOf[MapEntry]())

	m.Entries = make([]MapEntry, capacity)
	for i := range m.Entries {
		m.Entries[i] = MapEntry{Key: Undefined, Value: False}
	}
	for _, e := range old {
		if e.Key.IsUndefined() {
			continue
		}
		m.insertEntry(e.Key, e.Value)
	}
}

// Get returns the value stored under key, or Undefined when missing.
func (m *Map) Get(key Value) Value {
	if index, found := m.findEntry(key); found {
		return m.Entries[index].Value
	}
	return Undefined
}

// Set stores value under key, growing the entries when the map would exceed
// its load factor.
func (m *Map) Set(vm *VM, key, value Value) {
	if !IsHashable(key) {
		fatalf("unhashable map key %s", key.TypeName())
	}
	if m.Count+1 > len(m.Entries)*mapLoadPercent/100 {
		capacity := max(len(m.Entries)*mapGrowFactor, mapMinCapacity)
		m.resize(vm, capacity)
	}
	if m.insertEntry(key, value) {
		m.Count++
	}
}

// Clear removes every entry and releases the storage.
func (m *Map) Clear(vm *VM) {
	vm.reallocate(len(m.Entries)*sizeOf[MapEntry](), 0)
	m.Entries = nil
	m.Count = 0
}

// Remove deletes key and returns its value, or Undefined when missing. The
// map shrinks once it is a quarter full.
func (m *Map) Remove(vm *VM, key Value) Value {
	index, found := m.findEntry(key)
	if !found {
		return Undefined
	}

	value := m.Entries[index].Value
	m.Entries[index] = MapEntry{Key: Undefined, Value: True}
	m.Count--

	if value.IsObject() {
		vm.pushTempRef(value.obj)
		defer vm.popTempRef()
	}

	capacity := len(m.Entries)
	shrinkFactor := mapGrowFactor * mapGrowFactor
	if m.Count == 0 {
		m.Clear(vm)
	} else if capacity > mapMinCapacity && capacity/shrinkFactor > m.Count*100/mapLoadPercent {
		m.resize(vm, max(capacity/shrinkFactor, mapMinCapacity))
	}
	return value
}

// Each calls fn for every live entry in slot order until fn returns false.
func (m *Map) Each(fn func(key, value Value) bool) {
	for _, e := range m.Entries {
		if e.Key.IsUndefined() {
			continue
		}
		if !fn(e.Key, e.Value) {
			return
		}
	}
}
