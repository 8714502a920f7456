package lib

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/ThakeeNathees/pocketlang-sub001/vm"
)

const (
	streamStdin = iota
	streamStdout
	streamStderr
)

func ioWrite(v *vm.VM) {
	stream, ok := v.ValidateSlotInteger(1)
	if !ok {
		return
	}
	text, ok := v.ValidateSlotString(2)
	if !ok {
		return
	}

	cfg := v.Config()
	var write vm.WriteFn
	switch stream {
	case streamStdin:
		v.SetRuntimeError("Cannot write to stdin.")
		return
	case streamStdout:
		write = cfg.WriteFn
	case streamStderr:
		write = cfg.StderrFn
	default:
		v.SetRuntimeErrorFmt("Invalid stream (%d). Only use any of io.stdin, io.stdout, io.stderr.", stream)
		return
	}
	if write != nil {
		write(v, text)
	}
}

func ioReadFile(v *vm.VM) {
	path, ok := v.ValidateSlotString(1)
	if !ok {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		v.SetRuntimeErrorFmt("Cannot read file '%s'.", path)
		libLog.Debugf("readfile %s: %s", path, err)
		return
	}
	v.SetSlotString(0, string(data))
}

func ioWriteFile(v *vm.VM) {
	path, ok := v.ValidateSlotString(1)
	if !ok {
		return
	}
	text, ok := v.ValidateSlotString(2)
	if !ok {
		return
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		v.SetRuntimeErrorFmt("Cannot write file '%s'.", path)
		libLog.Debugf("writefile %s: %s", path, err)
	}
}

var ioFunctions = []function{
	{"write", ioWrite, 2, doc("io.write(stream:Number, text:String) -> Null",
		"Writes text to io.stdout or io.stderr.")},
	{"readfile", ioReadFile, 1, doc("io.readfile(path:String) -> String", "Returns the content of the file.")},
	{"writefile", ioWriteFile, 2, doc("io.writefile(path:String, text:String) -> Null",
		"Writes text to the file, replacing its content.")},
}

// ---------------------------------------------------------------------------
// io.File
// ---------------------------------------------------------------------------

type file struct {
	f        *os.File
	r        *bufio.Reader
	readable bool
	writable bool
	binary   bool
	closed   bool
}

func newFile(*vm.VM) any { return &file{closed: true} }

func deleteFile(_ *vm.VM, native any) {
	if fp, ok := native.(*file); ok && !fp.closed {
		fp.f.Close()
		fp.closed = true
	}
}

// openFlags maps an fopen style mode to os.OpenFile flags.
func openFlags(mode string) (flags int, readable, writable, binary, ok bool) {
	binary = strings.Contains(mode, "b")
	plus := strings.Contains(mode, "+")
	base := strings.Trim(mode, "b+")
	if len(base) != 1 || len(mode) > 3 {
		return 0, false, false, false, false
	}
	switch base {
	case "r":
		flags, readable, writable = os.O_RDONLY, true, plus
	case "w":
		flags, readable, writable = os.O_WRONLY|os.O_CREATE|os.O_TRUNC, plus, true
	case "a":
		flags, readable, writable = os.O_WRONLY|os.O_CREATE|os.O_APPEND, plus, true
	default:
		return 0, false, false, false, false
	}
	if plus {
		flags = flags&^os.O_WRONLY | os.O_RDWR
	}
	return flags, readable, writable, binary, true
}

func fileOpen(v *vm.VM) {
	argc := v.Argc()
	if !v.CheckArgcRange(argc, 1, 2) {
		return
	}
	path, ok := v.ValidateSlotString(1)
	if !ok {
		return
	}
	mode := "r"
	if argc == 2 {
		if mode, ok = v.ValidateSlotString(2); !ok {
			return
		}
	}

	flags, readable, writable, binary, ok := openFlags(mode)
	if !ok {
		v.SetRuntimeError("Invalid mode string.")
		return
	}
	fp := v.Self().(*file)
	if !fp.closed {
		fp.f.Close()
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		libLog.Debugf("open %s: %s", path, err)
		v.SetRuntimeError("Error opening the file.")
		return
	}
	*fp = file{f: f, r: bufio.NewReader(f), readable: readable, writable: writable, binary: binary}
	v.PlaceSelf(0)
}

func (fp *file) checkReadable(v *vm.VM) bool {
	if fp.closed {
		v.SetRuntimeError("Cannot read from a closed file.")
		return false
	}
	if !fp.readable {
		v.SetRuntimeError("File is not readable.")
		return false
	}
	return true
}

func fileRead(v *vm.VM) {
	argc := v.Argc()
	if !v.CheckArgcRange(argc, 0, 1) {
		return
	}
	count := int32(-1)
	if argc == 1 {
		var ok bool
		if count, ok = v.ValidateSlotInteger(1); !ok {
			return
		}
		if count < 0 && count != -1 {
			v.SetRuntimeError("Read bytes count should be either > 0 or == -1.")
			return
		}
	}

	fp := v.Self().(*file)
	if !fp.checkReadable(v) {
		return
	}

	var (
		data []byte
		err  error
	)
	if count == -1 {
		data, err = io.ReadAll(fp.r)
	} else {
		data = make([]byte, count)
		var n int
		n, err = io.ReadFull(fp.r, data)
		data = data[:n]
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			err = nil
		}
	}
	if err != nil {
		v.SetRuntimeErrorFmt("Cannot read the file: %s", err)
		return
	}
	v.SetSlotString(0, string(data))
}

func fileGetLine(v *vm.VM) {
	fp := v.Self().(*file)
	if !fp.checkReadable(v) {
		return
	}
	if fp.binary {
		v.SetRuntimeError("Cannot getline binary files.")
		return
	}
	line, err := fp.r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		v.SetRuntimeErrorFmt("Cannot read the file: %s", err)
		return
	}
	v.SetSlotString(0, line)
}

func fileWrite(v *vm.VM) {
	text, ok := v.ValidateSlotString(1)
	if !ok {
		return
	}
	fp := v.Self().(*file)
	if fp.closed {
		v.SetRuntimeError("Cannot write to a closed file.")
		return
	}
	if !fp.writable {
		v.SetRuntimeError("File is not writable.")
		return
	}
	if _, err := fp.f.WriteString(text); err != nil {
		v.SetRuntimeErrorFmt("Cannot write the file: %s", err)
	}
}

func fileClose(v *vm.VM) {
	fp := v.Self().(*file)
	if fp.closed {
		v.SetRuntimeError("File already closed.")
		return
	}
	fp.closed = true
	if err := fp.f.Close(); err != nil {
		v.SetRuntimeErrorFmt("Cannot close the file: %s", err)
	}
}

var fileMethods = []function{
	{"open", fileOpen, -1, doc("io.File.open(path:String[, mode:String]) -> File",
		"Opens the file at path. The mode is 'r', 'w' or 'a', optionally with 'b' and '+'.")},
	{"read", fileRead, -1, doc("io.File.read([count:Number]) -> String",
		"Reads count bytes, or the rest of the file when count is -1 or missing.")},
	{"getline", fileGetLine, 0, doc("io.File.getline() -> String",
		"Reads a line including its newline. Returns an empty string at the end of the file.")},
	{"write", fileWrite, 1, doc("io.File.write(text:String) -> Null", "Writes text to the file.")},
	{"close", fileClose, 0, doc("io.File.close() -> Null", "Closes the file.")},
}

const ioSource = `
def open(path, mode)
  "Opens the file at path with mode and returns it."
  return File().open(path, mode)
end
`

func setupIO(v *vm.VM, h *vm.Handle) {
	v.ModuleAddGlobal(h, "stdin", vm.NumberValue(streamStdin))
	v.ModuleAddGlobal(h, "stdout", vm.NumberValue(streamStdout))
	v.ModuleAddGlobal(h, "stderr", vm.NumberValue(streamStderr))

	cls := v.NewClass("File", nil, h, newFile, deleteFile, "A file of the file system.")
	for _, m := range fileMethods {
		v.ClassAddMethod(cls, m.name, m.fn, m.arity, m.doc)
	}
	v.ReleaseHandle(cls)

	if result := v.ModuleAddSource(h, ioSource); result != vm.ResultSuccess {
		libLog.Errorf("io module source failed: %s", result)
	}
}
