package vm

import "testing"

type rootList []Object

func (r rootList) MarkRoots(vm *VM) {
	for _, obj := range r {
		vm.MarkObject(obj)
	}
}

func TestCollectFreesUnreachableObjects(t *testing.T) {
	v := NewVM(nil)
	defer v.Free()

	v.CollectGarbage()
	baseline := v.ObjectCount()

	for i := 0; i < 100; i++ {
		v.NewStringObject("garbage")
	}
	if got := v.ObjectCount(); got != baseline+100 {
		t.Fatalf("ObjectCount = %d, want %d", got, baseline+100)
	}

	freed := v.CollectGarbage()
	if got := v.ObjectCount(); got != baseline {
		t.Errorf("ObjectCount after collection = %d, want %d", got, baseline)
	}
	if freed <= 0 {
		t.Errorf("CollectGarbage freed %d bytes, want > 0", freed)
	}

	stats := v.LastGCStats()
	if stats.Objects != 100 {
		t.Errorf("stats.Objects = %d, want 100", stats.Objects)
	}
	if stats.Freed != stats.Before-stats.After {
		t.Errorf("stats.Freed = %d, want %d", stats.Freed, stats.Before-stats.After)
	}
	if stats.After != v.BytesAllocated() {
		t.Errorf("stats.After = %d, BytesAllocated = %d", stats.After, v.BytesAllocated())
	}
}

func TestHandlesKeepObjectsAlive(t *testing.T) {
	v := NewVM(nil)
	defer v.Free()

	list := v.newList(0)
	h := v.NewHandle(ObjectValue(list))
	list.Elements.Write(v, ObjectValue(v.newString("kept")))

	v.CollectGarbage()
	if list.Elements.Len() != 1 || list.Elements.At(0).AsString().Data != "kept" {
		t.Fatal("list contents changed")
	}
	before := v.ObjectCount()

	v.ReleaseHandle(h)
	v.CollectGarbage()
	if got := v.ObjectCount(); got != before-2 {
		t.Errorf("ObjectCount after release = %d, want %d", got, before-2)
	}
}

func TestTempRefsAndCompilerRoots(t *testing.T) {
	v := NewVM(nil)
	defer v.Free()

	v.CollectGarbage()
	baseline := v.ObjectCount()

	s := v.NewStringObject("temp")
	v.PushTempRef(s)
	r := v.NewStringObject("root")
	v.PushCompilerRoot(rootList{r})

	v.CollectGarbage()
	if got := v.ObjectCount(); got != baseline+2 {
		t.Errorf("ObjectCount with roots = %d, want %d", got, baseline+2)
	}

	v.PopCompilerRoot()
	v.PopTempRef()
	v.CollectGarbage()
	if got := v.ObjectCount(); got != baseline {
		t.Errorf("ObjectCount after popping roots = %d, want %d", got, baseline)
	}
}

func TestCollectionRunsAtThreshold(t *testing.T) {
	cfg := NewConfiguration()
	cfg.InitialGC = 4096
	cfg.MinHeapSize = 4096
	v := NewVM(cfg)
	defer v.Free()

	for i := 0; i < 1000; i++ {
		v.NewStringObject("some garbage that adds up")
	}
	if v.LastGCStats().Cycle == 0 {
		t.Error("no collection ran after crossing the threshold")
	}
}

func TestAllocatorObservesHeap(t *testing.T) {
	var live int
	cfg := NewConfiguration()
	cfg.Allocator = func(oldSize, newSize int) {
		live += newSize - oldSize
	}
	v := NewVM(cfg)

	v.NewStringObject("tracked")
	if live <= 0 {
		t.Fatalf("allocator saw %d live bytes, want > 0", live)
	}
	v.Free()
}
