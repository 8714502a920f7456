package compiler

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ThakeeNathees/pocketlang-sub001/vm"
)

// testHost collects what a VM writes and reports.
type testHost struct {
	out    strings.Builder
	errors []string
}

func newTestVM(t *testing.T) (*vm.VM, *testHost) {
	t.Helper()
	host := &testHost{}
	config := vm.NewConfiguration()
	config.WriteFn = func(_ *vm.VM, text string) { host.out.WriteString(text) }
	config.StderrFn = func(_ *vm.VM, text string) { host.out.WriteString(text) }
	config.ErrorFn = func(_ *vm.VM, kind vm.ErrorKind, _ string, _ int, message string) {
		if kind != vm.ErrorStackTrace {
			host.errors = append(host.errors, message)
		}
	}
	config.ExitFn = func(int) {}
	v := vm.NewVM(config)
	t.Cleanup(v.Free)
	return v, host
}

func compileSource(t *testing.T, source string, opts *vm.CompileOptions) (vm.Result, *vm.CompileError, *vm.Module) {
	t.Helper()
	v, _ := newTestVM(t)
	handle := v.NewModule("test")
	t.Cleanup(func() { v.ReleaseHandle(handle) })
	m := handle.Value().AsModule()
	result, cerr := Compile(v, m, source, opts)
	return result, cerr, m
}

// repeated formats format with 0..n-1 and joins the results with sep.
func repeated(format string, n int, sep string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf(format, i)
	}
	return strings.Join(parts, sep)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"break outside loop", "break", "Cannot use 'break' outside a loop."},
		{"continue outside loop", "continue", "Cannot use 'continue' outside a loop."},
		{"return outside function", "return 1", "Invalid 'return' outside a function."},
		{"undefined name", "print(x)", "Name 'x' is not defined."},
		{"undefined forward name", "def f()\n  g()\nend", "Name 'g' is not defined."},
		{"duplicate parameter", "def f(a, a)\nend", "Multiple definition of a parameter."},
		{"missing function name", "def (a)\nend", "Expected a function name."},
		{"missing parameter name", "def f(1)\nend", "Expected a parameter name."},
		{"unterminated function", "def f()\n  x = 1\n", "Expected 'end' after function definition end."},
		{"operator arity", "class A\n  def +(a, b)\n  end\nend", "Expected exactly 1 parameters."},
		{"unary operator without self", "class A\n  def ~()\n  end\nend", "Expected keyword self for unary operator definition."},
		{"bad subscript operator", "class A\n  def [(a)\n  end\nend", "Invalid operator method symbol."},
		{"missing method def", "class A\n  x = 1\nend", "Expected method definition."},
		{"class at eof", "class A\n", "Unexpected EOF while parsing class."},
		{"missing class name", "class 1\nend", "Expected a class name."},
		{"missing base class", "class A is 1\nend", "Expected a class name to inherit."},
		{"return value from constructor", "class A\n  def _init()\n    return 1\n  end\nend", "Cannot 'return' a value from constructor."},
		{"self outside method", "def f()\n  print(self)\nend", "Invalid use of 'self'."},
		{"self inside closure", "class A\n  def f()\n    return fn\n      return self\n    end\n  end\nend", "Cannot use 'self' inside a closure."},
		{"super outside method", "def f()\n  super()\nend", "Invalid use of 'super'."},
		{"super without method name", "class A\n  def f()\n    super.()\n  end\nend", "Expected a method name after 'super'."},
		{"unclosed list", "x = [1, 2", "Expected ']' after list elements."},
		{"unclosed map", "x = {1: 2", "Expected '}' after map elements."},
		{"map without colon", "x = {1 2}", "Expected ':' after map's key."},
		{"unclosed group", "x = (1 + 2", "Expected ')' after expression."},
		{"unclosed call", "print(1, 2", "Expected ')' after parameter list."},
		{"missing attribute", "x = [].", "Expected an attribute name after '.'."},
		{"unclosed subscript", "x = [1][0", "Expected ']' after subscription ends."},
		{"missing expression", "x = )", "Expected an expression."},
		{"definition inside expression", "print(y = 1)", "Variable definition isn't allowed here."},
		{"missing module name", "import 1", "Expected a module name"},
		{"missing alias", "import lang as 1", "Expected a name after 'as'."},
		{"missing import keyword", "from lang print", "Expected keyword 'import'."},
		{"missing import symbol", "from lang import 1", "Expected symbol to import."},
		{"missing iterator", "for 1 in x do\nend", "Expected an iterator name."},
		{"missing in", "for i of x do\nend", "Expected 'in' after iterator name."},
		{"unterminated if", "if true then\n  x = 1\n", "Expected 'end' after statement end."},
		{"missing statement end", "x = 1 y = 2", "Expected statement end with '\\n' or ';'."},
		{"too many arguments", "print(" + strings.Repeat("1, ", 32) + "1)", "A function call can have at most 32 arguments."},
		{"lexer error", "x = \"open", "Non terminated string."},
		{"too many constants", repeated("x = %d\n", 70000, ""), "A module should contain at most 65536 unique constants."},
		{"too many globals", repeated("g%d = 0\n", 300, ""), "A module should contain at most 256 globals."},
		{"too many locals", "def f()\n" + repeated("  l%d = 0\n", 300, "") + "end", "A module should contain at most 256 locals."},
		{
			name: "too many upvalues",
			source: "def outer()\n" + repeated("  a%d = 0\n", 200, "") +
				"  def middle()\n" + repeated("    b%d = 0\n", 200, "") +
				"    return fn\n      return [" + repeated("a%d", 200, ", ") + ", " + repeated("b%d", 200, ", ") + "]\n    end\n" +
				"  end\n  return middle\nend",
			want: "A function cannot capture more than 256 upvalues.",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, cerr, _ := compileSource(t, tc.source, nil)
			if result != vm.ResultCompileError {
				t.Fatalf("result = %v, want compile error", result)
			}
			if cerr == nil {
				t.Fatal("no compile error returned")
			}
			if cerr.Message != tc.want {
				t.Errorf("error = %q, want %q", cerr.Message, tc.want)
			}
		})
	}
}

func TestCompileErrorPosition(t *testing.T) {
	_, cerr, _ := compileSource(t, "x = 1\ny = z", nil)
	if cerr == nil {
		t.Fatal("no compile error returned")
	}
	if cerr.Line != 2 {
		t.Errorf("line = %d, want 2", cerr.Line)
	}
	if got := cerr.Source[cerr.Offset : cerr.Offset+cerr.Length]; got != "z" {
		t.Errorf("offending token = %q, want %q", got, "z")
	}
	if cerr.File != "@??" {
		t.Errorf("file = %q, want %q", cerr.File, "@??")
	}
}

func TestCompileErrorDropsDefinitions(t *testing.T) {
	v, _ := newTestVM(t)
	handle := v.NewModule("test")
	defer v.ReleaseHandle(handle)
	m := handle.Value().AsModule()

	if result, _ := Compile(v, m, "a = 1", nil); result != vm.ResultSuccess {
		t.Fatalf("first compile: %v", result)
	}
	constants, globals := m.Constants.Len(), m.Globals.Len()

	if result, _ := Compile(v, m, "b = \"new constant\"\nprint(undefined)", nil); result != vm.ResultCompileError {
		t.Fatalf("second compile: %v, want compile error", result)
	}
	if m.Constants.Len() != constants {
		t.Errorf("constants = %d, want %d", m.Constants.Len(), constants)
	}
	if m.Globals.Len() != globals {
		t.Errorf("globals = %d, want %d", m.Globals.Len(), globals)
	}
	if m.GlobalIndex("b") != -1 {
		t.Error("global b survived a failed compilation")
	}
}

func TestCompileReplIncomplete(t *testing.T) {
	repl := &vm.CompileOptions{ReplMode: true}

	tests := []struct {
		source string
		want   vm.Result
	}{
		{"def f()", vm.ResultUnexpectedEOF},
		{"x = ", vm.ResultUnexpectedEOF},
		{"1 +", vm.ResultUnexpectedEOF},
		{"if true then", vm.ResultUnexpectedEOF},
		{"class A", vm.ResultUnexpectedEOF},
		{"[1, 2,", vm.ResultUnexpectedEOF},
		{"1 + 2", vm.ResultSuccess},
		{"def f()\nend", vm.ResultSuccess},
		{"print(x)", vm.ResultCompileError},
		{"1 + )", vm.ResultCompileError},
	}

	for _, tc := range tests {
		result, _, _ := compileSource(t, tc.source, repl)
		if result != tc.want {
			t.Errorf("Compile(%q) = %v, want %v", tc.source, result, tc.want)
		}
	}
}

func TestCompileTailCalls(t *testing.T) {
	source := "def f(n)\n  return g(n)\nend\ndef g(n)\n  return n\nend"

	hasTailCall := func(m *vm.Module) bool {
		for _, c := range m.Constants.Data {
			fn, ok := c.AsObject().(*vm.Function)
			if !ok || fn.Name != "f" {
				continue
			}
			for _, b := range fn.Code.Opcodes.Data {
				if vm.Opcode(b) == vm.OpTailCall {
					return true
				}
			}
			return false
		}
		t.Fatal("function f is not a constant of the module")
		return false
	}

	_, _, m := compileSource(t, source, nil)
	if !hasTailCall(m) {
		t.Error("return of a call did not compile to a tail call")
	}

	_, _, m = compileSource(t, source, &vm.CompileOptions{Debug: true})
	if hasTailCall(m) {
		t.Error("debug build compiled a tail call")
	}
}

func TestCheckCollectsEveryError(t *testing.T) {
	v, host := newTestVM(t)

	diags := Check(v, "check", "print(a)\nprint(b)")
	if len(diags) != 2 {
		t.Fatalf("got %d diagnostics %v, want 2", len(diags), diags)
	}
	if diags[0].Message != "Name 'a' is not defined." || diags[0].Pos.Line != 1 || diags[0].Pos.Column != 7 {
		t.Errorf("diags[0] = %s", diags[0])
	}
	if diags[1].Message != "Name 'b' is not defined." || diags[1].Pos.Line != 2 {
		t.Errorf("diags[1] = %s", diags[1])
	}
	if diags[0].Length != 1 {
		t.Errorf("length = %d, want 1", diags[0].Length)
	}
	if len(host.errors) != 0 {
		t.Errorf("Check reported errors through the VM: %v", host.errors)
	}

	if diags := Check(v, "check", "x = 1\nprint(x)"); len(diags) != 0 {
		t.Errorf("valid source: %v", diags)
	}
}

func TestCheckStopsAtSyntaxError(t *testing.T) {
	v, _ := newTestVM(t)
	diags := Check(v, "check", "x = (1\nprint(a)")
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics %v, want 1", len(diags), diags)
	}
	if diags[0].Message != "Expected ')' after expression." {
		t.Errorf("message = %q", diags[0].Message)
	}
}

func runScript(t *testing.T, source string) (string, vm.Result, []string) {
	t.Helper()
	v, host := newTestVM(t)
	result := v.RunString(source)
	return host.out.String(), result, host.errors
}

func TestRunScripts(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{
			name:   "arithmetic",
			source: "print(1 + 2 * 3)\nprint(2 ** 10)\nprint(7 % 3)\nprint(10 / 4)\nprint(-3 + 1)\nprint((1 + 2) * 3)",
			want:   "7\n1024\n1\n2.5\n-2\n9\n",
		},
		{
			name:   "comparison and logic",
			source: "print(1 < 2 and 2 < 3)\nprint(1 > 2 or false)\nprint(not true)\nprint(null or 5)\nprint(1 == 1.0, 1 != 2)",
			want:   "true\nfalse\nfalse\n5\ntrue true\n",
		},
		{
			name:   "bitwise",
			source: "print(6 & 3, 6 | 3, 6 ^ 3, ~0, 1 << 4, 256 >> 4)",
			want:   "2 7 5 -1 16 16\n",
		},
		{
			name:   "compound assignment",
			source: "x = 10\nx += 5\nx -= 3\nx *= 2\nx /= 4\nprint(x)",
			want:   "6\n",
		},
		{
			name:   "string interpolation",
			source: "name = \"world\"\nprint(\"hello $name!\")\nprint(\"${1 + 2} apples\")\nprint(\"[${\"in${name}\"}]\")",
			want:   "hello world!\n3 apples\n[inworld]\n",
		},
		{
			name:   "lists",
			source: "l = [1, 2, 3]\nl[0] = 10\nl[1] += 5\nprint(l)\nprint(l.length)\nprint(2 in l, 9 in l)",
			want:   "[10, 7, 3]\n3\nfalse false\n",
		},
		{
			name:   "maps",
			source: "m = {\"a\": 1}\nm[\"b\"] = 2\nprint(m[\"a\"] + m[\"b\"])\nprint(\"a\" in m)",
			want:   "3\ntrue\n",
		},
		{
			name:   "if elif else",
			source: "def sign(n)\n  if n < 0 then return -1\n  elif n == 0 then return 0\n  else return 1 end\nend\nprint(sign(-5), sign(0), sign(3))",
			want:   "-1 0 1\n",
		},
		{
			name:   "for loop with break and continue",
			source: "total = 0\nfor i in 0..10\n  if i % 2 == 0 then continue end\n  if i > 7 then break end\n  total += i\nend\nprint(total)",
			want:   "16\n",
		},
		{
			name:   "ranges with fractional bounds",
			source: "l = []\nfor i in 0..2.5 do l.append(i) end\nfor i in 3..0.5 do l.append(i) end\nfor i in 2..2 do l.append(i) end\nprint(l)",
			want:   "[0, 1, 2, 3, 2, 1]\n",
		},
		{
			name:   "while loop",
			source: "i = 0\nwhile i < 5 do i += 1 end\nprint(i)",
			want:   "5\n",
		},
		{
			name:   "for over list and string",
			source: "s = \"\"\nfor c in \"abc\" do s = c + s end\nprint(s)\nn = 0\nfor x in [1, 2, 3] do n += x end\nprint(n)",
			want:   "cba\n6\n",
		},
		{
			name:   "recursion",
			source: "def fib(n)\n  if n < 2 then return n end\n  return fib(n - 1) + fib(n - 2)\nend\nprint(fib(20))",
			want:   "6765\n",
		},
		{
			name:   "forward reference",
			source: "def a()\n  return b()\nend\ndef b()\n  return \"b\"\nend\nprint(a())",
			want:   "b\n",
		},
		{
			name:   "tail calls",
			source: "def count(n)\n  if n == 0 then return \"done\" end\n  return count(n - 1)\nend\nprint(count(100000))",
			want:   "done\n",
		},
		{
			name: "closures",
			source: "def make_counter()\n  count = 0\n  return fn\n    count += 1\n    return count\n  end\nend\n" +
				"c = make_counter()\nc(); c()\nprint(c())\nd = make_counter()\nprint(d())",
			want: "3\n1\n",
		},
		{
			name:   "nested closures",
			source: "def outer()\n  x = 1\n  def middle()\n    return fn\n      x += 1\n      return x\n    end\n  end\n  return middle()\nend\nf = outer()\nf()\nprint(f())",
			want:   "3\n",
		},
		{
			name:   "closures capture loop body locals",
			source: "fns = []\nfor i in 0..3\n  j = i\n  fns.append(fn return j end)\nend\nprint(fns[0](), fns[2]())",
			want:   "0 2\n",
		},
		{
			name:   "optional call parentheses",
			source: "def apply(f)\n  return f(2)\nend\nprint(apply fn(x)\n  return x * 10\nend)",
			want:   "20\n",
		},
		{
			name: "classes",
			source: "class Vec\n  def _init(x, y)\n    self.x = x\n    self.y = y\n  end\n" +
				"  def +(other)\n    return Vec(self.x + other.x, self.y + other.y)\n  end\n" +
				"  def _str()\n    return \"(${self.x}, ${self.y})\"\n  end\nend\n" +
				"v = Vec(1, 2) + Vec(3, 4)\nprint(v)\nprint(v is Vec)",
			want: "(4, 6)\ntrue\n",
		},
		{
			name: "inheritance and super",
			source: "class A\n  def greet()\n    return \"A\"\n  end\nend\n" +
				"class B is A\n  def greet()\n    return \"B\" + super()\n  end\nend\n" +
				"print(B().greet())\nprint(B() is A)",
			want: "BA\ntrue\n",
		},
		{
			name: "operator methods",
			source: "class Box\n  def _init(v)\n    self.v = v\n  end\n  def -self()\n    return Box(-self.v)\n  end\n" +
				"  def ==(other)\n    return self.v == other.v\n  end\n  def [](i)\n    return self.v * i\n  end\nend\n" +
				"b = -Box(3)\nprint(b.v, b == Box(-3), b[2])",
			want: "-3 true -6\n",
		},
		{
			name:   "fibers",
			source: "def gen()\n  yield(1)\n  yield(2)\n  return 3\nend\nf = Fiber(gen)\nprint(f.run())\nprint(f.resume())\nprint(f.resume())\nprint(f.is_done)",
			want:   "1\n2\n3\ntrue\n",
		},
		{
			name:   "imports",
			source: "import lang\nfrom lang import gc as collect\nprint(lang.gc() >= 0, collect() >= 0)",
			want:   "true true\n",
		},
		{
			name:   "local functions",
			source: "def outer()\n  def double(x)\n    return x * 2\n  end\n  return double(21)\nend\nprint(outer())",
			want:   "42\n",
		},
		{
			name:   "semicolons",
			source: "a = 1; b = 2; print(a + b)",
			want:   "3\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, result, errs := runScript(t, tc.source)
			if result != vm.ResultSuccess {
				t.Fatalf("result = %v, errors = %v, output = %q", result, errs, out)
			}
			if out != tc.want {
				t.Errorf("output = %q, want %q", out, tc.want)
			}
		})
	}
}

func TestRunScriptErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"call a number", "x = 1\nx()", "Expected a callable to call, instead got 'Number'."},
		{"arity", "def f(a)\nend\nf(1, 2)", "Expected exactly 1 argument(s) for function f"},
		{"inherit a number", "x = 1\nclass A is x\nend", "Cannot inherit a non class object."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, result, errs := runScript(t, tc.source)
			if result != vm.ResultRuntimeError {
				t.Fatalf("result = %v, want runtime error", result)
			}
			if len(errs) == 0 || errs[0] != tc.want {
				t.Errorf("errors = %q, want %q", errs, tc.want)
			}
		})
	}
}

func TestReplPrintsExpressions(t *testing.T) {
	v, host := newTestVM(t)
	handle := v.NewModule("@(REPL)")
	defer v.ReleaseHandle(handle)

	opts := &vm.CompileOptions{ReplMode: true}
	for _, line := range []string{"x = 40", "x + 2", "null"} {
		if result := v.CompileModule(handle, line, opts); result != vm.ResultSuccess {
			t.Fatalf("compile %q: %v", line, result)
		}
		if result := v.RunModule(handle); result != vm.ResultSuccess {
			t.Fatalf("run %q: %v", line, result)
		}
	}
	if got := host.out.String(); got != "40\n42\n" {
		t.Errorf("output = %q, want %q", got, "40\n42\n")
	}
}
