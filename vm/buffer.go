package vm

import (
	"unsafe"
)

// ---------------------------------------------------------------------------
// Buffer: growable typed array with allocation accounting
// ---------------------------------------------------------------------------

// Buffer is a growable array used by the compiler and the runtime for code
// bytes, line tables, constant pools, list elements and method tables.
//
// Capacity grows geometrically (factor 2, minimum 8). Every change of
// capacity is reported to the VM so buffer memory counts towards the
// collection threshold. Data always has length == Len(); the spare capacity
// lives in the underlying slice.
type Buffer[T any] struct {
	Data []T
}

const (
	minBufferCapacity = 8
	bufferGrowFactor  = 2
)

// Len returns the number of elements in the buffer.
func (b *Buffer[T]) Len() int { return len(b.Data) }

// Cap returns the capacity of the buffer.
func (b *Buffer[T]) Cap() int { return cap(b.Data) }

// At returns the element at index i.
func (b *Buffer[T]) At(i int) T { return b.Data[i] }

// Reserve ensures the buffer can hold at least size elements without
// growing again.
func (b *Buffer[T]) Reserve(vm *VM, size int) {
	if cap(b.Data) >= size {
		return
	}
	capacity := max(cap(b.Data)*bufferGrowFactor, minBufferCapacity)
	for capacity < size {
		capacity *= bufferGrowFactor
	}
	data := make([]T, len(b.Data), capacity)
	copy(data, b.Data)
	vm.reallocate(cap(b.Data)*b.elemSize(), capacity*b.elemSize())
	b.Data = data
}

// Write appends one element.
func (b *Buffer[T]) Write(vm *VM, v T) {
	b.Reserve(vm, len(b.Data)+1)
	b.Data = append(b.Data, v)
}

// Fill appends count copies of v.
func (b *Buffer[T]) Fill(vm *VM, v T, count int) {
	if count <= 0 {
		return
	}
	b.Reserve(vm, len(b.Data)+count)
	for i := 0; i < count; i++ {
		b.Data = append(b.Data, v)
	}
}

// Concat appends every element of other.
func (b *Buffer[T]) Concat(vm *VM, other *Buffer[T]) {
	if other.Len() == 0 {
		return
	}
	b.Reserve(vm, len(b.Data)+other.Len())
	b.Data = append(b.Data, other.Data...)
}

// Insert places v at index i, shifting the tail right.
func (b *Buffer[T]) Insert(vm *VM, i int, v T) {
	b.Reserve(vm, len(b.Data)+1)
	b.Data = append(b.Data, v)
	copy(b.Data[i+1:], b.Data[i:len(b.Data)-1])
	b.Data[i] = v
}

// RemoveAt deletes the element at index i and returns it. The buffer
// shrinks when it falls to half of its capacity.
func (b *Buffer[T]) RemoveAt(vm *VM, i int) T {
	v := b.Data[i]
	copy(b.Data[i:], b.Data[i+1:])
	var zero T
	b.Data[len(b.Data)-1] = zero
	b.Data = b.Data[:len(b.Data)-1]

	if cap(b.Data)/bufferGrowFactor >= len(b.Data) && cap(b.Data) > minBufferCapacity {
		capacity := max(cap(b.Data)/bufferGrowFactor, minBufferCapacity)
		data := make([]T, len(b.Data), capacity)
		copy(data, b.Data)
		vm.reallocate(cap(b.Data)*b.elemSize(), capacity*b.elemSize())
		b.Data = data
	}
	return v
}

// Truncate drops every element past n without releasing capacity.
func (b *Buffer[T]) Truncate(n int) {
	if n >= len(b.Data) {
		return
	}
	var zero T
	for i := n; i < len(b.Data); i++ {
		b.Data[i] = zero
	}
	b.Data = b.Data[:n]
}

// Clear releases the storage of the buffer.
func (b *Buffer[T]) Clear(vm *VM) {
	if cap(b.Data) != 0 {
		vm.reallocate(cap(b.Data)*b.elemSize(), 0)
	}
	b.Data = nil
}

// bytes is the accounted size of the buffer storage.
func (b *Buffer[T]) bytes() int {
	return cap(b.Data) * b.elemSize()
}

func (b *Buffer[T]) elemSize() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}
