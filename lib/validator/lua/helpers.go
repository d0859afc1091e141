package lua

import (
	"regexp"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// registerHelpers makes common string helpers available to scripts.
func (c *Checker) registerHelpers() {
	c.vm.SetGlobal("count_substring", c.vm.NewFunction(countSubstring))
	c.vm.SetGlobal("match_regex", c.vm.NewFunction(matchRegex))
	c.vm.SetGlobal("contains_any", c.vm.NewFunction(containsAny))
	c.vm.SetGlobal("to_lower", c.vm.NewFunction(toLowerCase))
	c.vm.SetGlobal("count_links", c.vm.NewFunction(countLinks))
}

var linkRe = regexp.MustCompile(`(?i)(https?://|href|mailto)`)

// countSubstring counts occurrences of a substring
func countSubstring(l *lua.LState) int {
	str := l.CheckString(1)
	substr := l.CheckString(2)
	l.Push(lua.LNumber(strings.Count(str, substr)))
	return 1
}

// matchRegex checks if a string matches a regex pattern
func matchRegex(l *lua.LState) int {
	text := l.CheckString(1)
	pattern := l.CheckString(2)

	re, err := regexp.Compile(pattern)
	if err != nil {
		l.Push(lua.LBool(false))
		l.Push(lua.LString("invalid pattern: " + err.Error()))
		return 2
	}
	l.Push(lua.LBool(re.MatchString(text)))
	return 1
}

// containsAny checks if a string contains any of the given substrings,
// case-insensitive
func containsAny(l *lua.LState) int {
	str := strings.ToLower(l.CheckString(1))
	tbl := l.CheckTable(2)

	found := false
	tbl.ForEach(func(_, v lua.LValue) {
		if found {
			return
		}
		if s, ok := v.(lua.LString); ok && strings.Contains(str, strings.ToLower(string(s))) {
			found = true
		}
	})
	l.Push(lua.LBool(found))
	return 1
}

// toLowerCase converts a string to lower case
func toLowerCase(l *lua.LState) int {
	l.Push(lua.LString(strings.ToLower(l.CheckString(1))))
	return 1
}

// countLinks counts link-looking fragments in a string
func countLinks(l *lua.LState) int {
	str := l.CheckString(1)
	l.Push(lua.LNumber(len(linkRe.FindAllStringIndex(str, -1))))
	return 1
}
