package lib

import (
	"time"

	"github.com/dlclark/regexp2"

	"github.com/ThakeeNathees/pocketlang-sub001/vm"
)

// reTimeout bounds a single match so a pathological pattern cannot hang
// the script.
const reTimeout = 5 * time.Second

// compilePattern compiles the pattern in slot 1.
func compilePattern(v *vm.VM) (*regexp2.Regexp, bool) {
	pattern, ok := v.ValidateSlotString(1)
	if !ok {
		return nil, false
	}
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		v.SetRuntimeErrorFmt("Cannot compile the regex pattern: %s", err)
		return nil, false
	}
	re.MatchTimeout = reTimeout
	return re, true
}

// patternAndSubject validates the pattern in slot 1 and the subject in
// slot 2.
func patternAndSubject(v *vm.VM) (*regexp2.Regexp, string, bool) {
	re, ok := compilePattern(v)
	if !ok {
		return nil, "", false
	}
	subject, ok := v.ValidateSlotString(2)
	if !ok {
		return nil, "", false
	}
	return re, subject, true
}

func matchError(v *vm.VM, err error) {
	v.SetRuntimeErrorFmt("Regex match failed: %s", err)
}

// setGroups stores the groups of m into slot 0 as a list, null for groups
// that did not participate. A nil match stores null.
func setGroups(v *vm.VM, m *regexp2.Match) {
	if m == nil {
		v.SetSlotNull(0)
		return
	}
	v.ReserveSlots(4)
	v.NewList(0)
	for _, g := range m.Groups() {
		if len(g.Captures) == 0 {
			v.SetSlotNull(3)
		} else {
			v.SetSlotString(3, g.String())
		}
		if !v.ListInsert(0, -1, 3) {
			return
		}
	}
}

func reMatch(v *vm.VM) {
	re, subject, ok := patternAndSubject(v)
	if !ok {
		return
	}
	m, err := re.FindStringMatch(subject)
	if err != nil {
		matchError(v, err)
		return
	}
	// The leftmost match starts at 0 whenever any match does.
	if m != nil && m.Index != 0 {
		m = nil
	}
	setGroups(v, m)
}

func reSearch(v *vm.VM) {
	re, subject, ok := patternAndSubject(v)
	if !ok {
		return
	}
	m, err := re.FindStringMatch(subject)
	if err != nil {
		matchError(v, err)
		return
	}
	setGroups(v, m)
}

func reTest(v *vm.VM) {
	re, subject, ok := patternAndSubject(v)
	if !ok {
		return
	}
	matched, err := re.MatchString(subject)
	if err != nil {
		matchError(v, err)
		return
	}
	v.SetSlotBool(0, matched)
}

func reFindAll(v *vm.VM) {
	re, subject, ok := patternAndSubject(v)
	if !ok {
		return
	}
	v.ReserveSlots(4)
	v.NewList(0)
	m, err := re.FindStringMatch(subject)
	for m != nil && err == nil {
		v.SetSlotString(3, m.String())
		if !v.ListInsert(0, -1, 3) {
			return
		}
		m, err = re.FindNextMatch(m)
	}
	if err != nil {
		matchError(v, err)
	}
}

func reSplit(v *vm.VM) {
	re, subject, ok := patternAndSubject(v)
	if !ok {
		return
	}
	v.ReserveSlots(4)
	v.NewList(0)

	last := 0
	m, err := re.FindStringMatch(subject)
	for m != nil && err == nil {
		// Empty matches split between characters, never at the ends.
		if m.Length == 0 && (m.Index == 0 || m.Index >= len(subject)) {
			m, err = re.FindNextMatch(m)
			continue
		}
		v.SetSlotString(3, subject[last:m.Index])
		if !v.ListInsert(0, -1, 3) {
			return
		}
		last = m.Index + m.Length
		m, err = re.FindNextMatch(m)
	}
	if err != nil {
		matchError(v, err)
		return
	}
	v.SetSlotString(3, subject[last:])
	v.ListInsert(0, -1, 3)
}

// reSub replaces the matches of the pattern in slot 1 within the subject in
// slot 2 by slot 3, a replacement string with $n group references or a
// function of the matched text. An optional count in slot 4 limits the
// replacements; -1 replaces every match.
func reSub(v *vm.VM) {
	argc := v.Argc()
	if !v.CheckArgcRange(argc, 3, 4) {
		return
	}
	re, subject, ok := patternAndSubject(v)
	if !ok {
		return
	}
	count := -1
	if argc == 4 {
		n, ok := v.ValidateSlotInteger(4)
		if !ok {
			return
		}
		count = int(n)
	}

	var (
		result string
		err    error
	)
	switch v.GetSlotType(3) {
	case vm.TypeString:
		result, err = re.Replace(subject, v.GetSlotString(3), -1, count)

	case vm.TypeClosure:
		v.ReserveSlots(6)
		failed := false
		result, err = re.ReplaceFunc(subject, func(m regexp2.Match) string {
			if failed {
				return ""
			}
			v.SetSlotString(5, m.String())
			if !v.CallFunctionSlots(3, 1, 5, 5) {
				failed = true
				return ""
			}
			s, ok := v.ValidateSlotString(5)
			if !ok {
				failed = true
				return ""
			}
			return s
		}, -1, count)
		if failed {
			return
		}

	default:
		v.SetRuntimeError("Expected a 'String' or a 'Closure' at slot 3.")
		return
	}
	if err != nil {
		matchError(v, err)
		return
	}
	v.SetSlotString(0, result)
}

var reFunctions = []function{
	{"match", reMatch, 2, doc("re.match(pattern:String, text:String) -> List",
		"Matches the pattern at the start of text and returns the matched groups, or null.")},
	{"search", reSearch, 2, doc("re.search(pattern:String, text:String) -> List",
		"Returns the groups of the first match of the pattern in text, or null.")},
	{"test", reTest, 2, doc("re.test(pattern:String, text:String) -> Bool",
		"Returns true if the pattern matches anywhere in text.")},
	{"findall", reFindAll, 2, doc("re.findall(pattern:String, text:String) -> List",
		"Returns every non overlapping match of the pattern in text.")},
	{"split", reSplit, 2, doc("re.split(pattern:String, text:String) -> List",
		"Splits text around the matches of the pattern.")},
	{"sub", reSub, -1, doc("re.sub(pattern:String, text:String, repl:String|Closure[, count:Number]) -> String",
		"Replaces matches of the pattern by repl, a string with $n group references or a function of the match.")},
}
