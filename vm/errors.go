package vm

import (
	"fmt"
	"strings"
)

// Result is the outcome of compiling or running code.
type Result int

const (
	ResultSuccess Result = iota
	ResultUnexpectedEOF
	ResultCompileError
	ResultRuntimeError
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultUnexpectedEOF:
		return "unexpected eof"
	case ResultCompileError:
		return "compile error"
	case ResultRuntimeError:
		return "runtime error"
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// ErrorKind tells the error callback what it is being given.
type ErrorKind int

const (
	ErrorCompile    ErrorKind = iota // a compile error, with file and line
	ErrorRuntime                     // the message of a runtime error
	ErrorStackTrace                  // one frame of a runtime error's trace
)

// CompileError describes the first error of a failed compilation.
type CompileError struct {
	File    string
	Line    int
	Message string

	// Source, Offset and Length locate the offending token for excerpts.
	Source string
	Offset int
	Length int
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%s:%d error: %s", e.File, e.Line, e.Message)
}

// TraceEntry is one frame of a runtime error's stack trace, innermost first.
type TraceEntry struct {
	Function string
	File     string
	Line     int
}

// RuntimeError is a runtime error raised in a fiber.
type RuntimeError struct {
	Message string
	Trace   []TraceEntry
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.Message)
	for _, t := range e.Trace {
		fmt.Fprintf(&b, "\n  %s() [%s:%d]", t.Function, t.File, t.Line)
	}
	return b.String()
}

// FatalError is raised by panic when an internal invariant of the VM is
// violated. Script input never causes one.
type FatalError struct {
	Message string
}

func (e *FatalError) Error() string {
	return "pocket: fatal error: " + e.Message
}

func fatalf(format string, args ...any) {
	panic(&FatalError{Message: fmt.Sprintf(format, args...)})
}
