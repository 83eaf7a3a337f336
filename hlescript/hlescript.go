// Package hlescript wires github.com/yuin/gopher-lua into the syscall
// bridge (spec.md C10) so HLE modules can be authored as Lua scripts
// instead of compiled Go handlers — useful for modeling one-off guest
// syscalls during bring-up without a rebuild. Nothing in the teacher uses
// an embedded scripting language; this is enrichment pulled from the rest
// of the retrieval pack's dependency surface (see DESIGN.md), following
// gopher-lua's own documented embedding pattern: one *lua.LState per
// call, guest registers pushed in as Lua numbers, return value popped back
// off the stack.
package hlescript

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	espresso "github.com/espresso-core/espresso"
)

// Engine owns the loaded script source for each registered syscall. It keeps
// no Lua states: gopher-lua's *lua.LState is not goroutine-safe, so every
// handler call runs its script in a fresh state of its own.
type Engine struct {
	scripts map[uint32]string
}

func NewEngine() *Engine {
	return &Engine{scripts: make(map[uint32]string)}
}

// LoadScript associates Lua source with guest syscall number id. The script
// is expected to define a global function `handle(gpr)` that returns the
// new value for GPR3; `gpr` is a Lua table mirroring GPR0-GPR10.
func (e *Engine) LoadScript(id uint32, source string) {
	e.scripts[id] = source
}

// RegisterScripted installs every loaded script onto bridge as a
// SyscallHandler, so normal Dispatch() calls reach Lua-defined handlers
// exactly like compiled ones.
func (e *Engine) RegisterScripted(bridge *espresso.SyscallBridge) {
	for id, source := range e.scripts {
		id, source := id, source
		bridge.Register(id, func(c *espresso.Core, kcNum uint32) *espresso.Core {
			result, err := e.run(source, c)
			if err != nil {
				c.GPR[3] = ^uint32(0)
				return c
			}
			c.GPR[3] = result
			return c
		})
	}
}

func (e *Engine) run(source string, c *espresso.Core) (uint32, error) {
	L := lua.NewState()
	defer L.Close()

	gprTable := L.NewTable()
	for i := 0; i < 11; i++ {
		gprTable.RawSetInt(i+1, lua.LNumber(c.GPR[i]))
	}
	L.SetGlobal("gpr", gprTable)

	if err := L.DoString(source); err != nil {
		return 0, fmt.Errorf("hlescript: load: %w", err)
	}

	fn := L.GetGlobal("handle")
	if fn.Type() != lua.LTFunction {
		return 0, fmt.Errorf("hlescript: script did not define handle(gpr)")
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, gprTable); err != nil {
		return 0, fmt.Errorf("hlescript: call: %w", err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	num, ok := ret.(lua.LNumber)
	if !ok {
		return 0, fmt.Errorf("hlescript: handle() must return a number")
	}
	return uint32(int64(num)), nil
}
