// Package lua provides Lua-scripted comment validators. It loads scripts that
// implement custom scoring logic and exposes each as a named check pluggable
// into the validator chain without touching the engine.
// A script should define a "check" function taking a comment table and
// returning a score in [0,1], or nil to abstain.
package lua

import (
	"context"
	"fmt"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"

	"github.com/commentguard/comment-guard/lib/comment"
)

// Check is a scripted validator with the engine's check contract.
type Check func(ctx context.Context, cmt comment.Comment, req comment.Request) (comment.Score, error)

// Checker implements a Lua scripting engine for comment validators.
// Not safe for concurrent checks, the engine runs the chain sequentially.
type Checker struct {
	vm       *lua.LState
	checkers map[string]*lua.LFunction
}

// NewChecker creates a new Checker with helper functions registered.
func NewChecker() *Checker {
	l := lua.NewState()
	c := &Checker{
		vm:       l,
		checkers: make(map[string]*lua.LFunction),
	}
	c.registerHelpers()
	return c
}

// LoadScript loads a Lua script and registers it as a checker under the
// file name without extension.
func (c *Checker) LoadScript(path string) error {
	if err := c.vm.DoFile(path); err != nil {
		return fmt.Errorf("failed to load lua script: %w", err)
	}

	checkFunc := c.vm.GetGlobal("check")
	if checkFunc.Type() != lua.LTFunction {
		return fmt.Errorf("script %s must define a 'check' function", path)
	}

	name := filepath.Base(path)
	name = name[:len(name)-len(filepath.Ext(name))]
	c.checkers[name] = checkFunc.(*lua.LFunction)
	return nil
}

// LoadDirectory loads all Lua scripts from a directory.
func (c *Checker) LoadDirectory(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.lua"))
	if err != nil {
		return fmt.Errorf("failed to list lua scripts in %s: %w", dir, err)
	}

	for _, file := range files {
		if err := c.LoadScript(file); err != nil {
			return fmt.Errorf("failed to load script %s: %w", file, err)
		}
	}
	return nil
}

// GetCheck returns the check for the specified script name.
func (c *Checker) GetCheck(name string) (Check, error) {
	checker, ok := c.checkers[name]
	if !ok {
		return nil, fmt.Errorf("lua checker %q not found", name)
	}
	return c.makeCheck(checker), nil
}

// GetAllChecks returns all loaded checks keyed by script name.
func (c *Checker) GetAllChecks() map[string]Check {
	result := make(map[string]Check)
	for name, checker := range c.checkers {
		result[name] = c.makeCheck(checker)
	}
	return result
}

// makeCheck wraps a Lua function into the engine's check contract. Script
// errors propagate as errors, scripted validators follow the fail-loud rule.
func (c *Checker) makeCheck(checker *lua.LFunction) Check {
	return func(_ context.Context, cmt comment.Comment, req comment.Request) (comment.Score, error) {
		cmtTable := c.vm.NewTable()
		cmtTable.RawSetString("body", lua.LString(cmt.Body))
		cmtTable.RawSetString("author_name", lua.LString(cmt.AuthorName))
		cmtTable.RawSetString("author_email", lua.LString(cmt.AuthorEmail))
		cmtTable.RawSetString("author_url", lua.LString(cmt.AuthorURL))
		cmtTable.RawSetString("ip_address", lua.LString(cmt.IPAddress))

		reqTable := c.vm.NewTable()
		reqTable.RawSetString("user_agent", lua.LString(req.UserAgent))
		reqTable.RawSetString("referer", lua.LString(req.Referer))
		cmtTable.RawSetString("request", reqTable)

		if err := c.vm.CallByParam(lua.P{
			Fn:      checker,
			NRet:    1,
			Protect: true,
		}, cmtTable); err != nil {
			return comment.Abstain(), fmt.Errorf("failed to execute lua checker: %w", err)
		}

		ret := c.vm.Get(-1)
		c.vm.Pop(1)

		if ret == lua.LNil {
			return comment.Abstain(), nil
		}
		num, ok := ret.(lua.LNumber)
		if !ok {
			return comment.Abstain(), fmt.Errorf("lua checker returned %s, want number or nil", ret.Type())
		}
		return comment.ScoreOf(float64(num)), nil
	}
}

// Close cleans up resources used by the Checker.
func (c *Checker) Close() {
	c.vm.Close()
}
