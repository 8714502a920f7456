package server

import (
	"os"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"

	_ "github.com/ThakeeNathees/pocketlang-sub001/compiler"
	"github.com/ThakeeNathees/pocketlang-sub001/lib"
	"github.com/ThakeeNathees/pocketlang-sub001/vm"
)

var (
	testVM     *vm.VM
	testWorker *VMWorker
)

// TestMain creates one VM with the standard library modules for all server
// tests. Tests reach it only through testWorker.
func TestMain(m *testing.M) {
	cfg := vm.NewConfiguration()
	lib.Configure(cfg)
	testVM = vm.NewVM(cfg)
	lib.Register(testVM)

	testWorker = NewVMWorker(testVM)

	code := m.Run()

	testWorker.Stop()
	testVM.Free()
	os.Exit(code)
}

func newTestLSP() *LspServer {
	return &LspServer{
		worker: testWorker,
		docs:   make(map[string]string),
	}
}

func hoverText(t *testing.T, h *protocol.Hover) string {
	t.Helper()
	if h == nil {
		t.Fatal("hover returned nil")
	}
	mc, ok := h.Contents.(protocol.MarkupContent)
	if !ok {
		t.Fatal("hover contents should be MarkupContent")
	}
	if mc.Kind != protocol.MarkupKindMarkdown {
		t.Errorf("hover markup kind = %q, want %q", mc.Kind, protocol.MarkupKindMarkdown)
	}
	return mc.Value
}
