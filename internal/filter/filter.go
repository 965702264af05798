// Package filter evaluates a user-supplied Lua predicate against
// decoded frames. The script defines a global function
// matches(frame) returning true to keep the frame.
package filter

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"wpan-sniffer/internal/capture"
	"wpan-sniffer/internal/mac"
)

// Filter runs one sandboxed Lua VM. The VM is not goroutine-safe, so
// calls are serialized.
type Filter struct {
	mu     sync.Mutex
	state  *lua.LState
	fn     lua.LValue
	logger *slog.Logger
}

// New compiles the Lua source and resolves its matches function.
func New(source string, logger *slog.Logger) (*Filter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: false})

	// Sandbox
	L.SetGlobal("os", lua.LNil)
	L.SetGlobal("io", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("require", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("debug", lua.LNil)
	L.SetGlobal("package", lua.LNil)

	if err := L.DoString(source); err != nil {
		L.Close()
		return nil, fmt.Errorf("filter: script error: %w", err)
	}

	fn := L.GetGlobal("matches")
	if fn.Type() != lua.LTFunction {
		L.Close()
		return nil, fmt.Errorf("filter: script does not define matches(frame)")
	}

	return &Filter{
		state:  L,
		fn:     fn,
		logger: logger.With("component", "filter"),
	}, nil
}

// NewFromFile loads the script from disk.
func NewFromFile(path string, logger *slog.Logger) (*Filter, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("filter: read script: %w", err)
	}
	return New(string(code), logger)
}

// Matches implements capture.Filter.
func (f *Filter) Matches(rec *capture.Record) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	L := f.state
	frame := frameTable(L, rec)

	if err := L.CallByParam(lua.P{
		Fn:      f.fn,
		NRet:    1,
		Protect: true,
	}, frame); err != nil {
		return false, fmt.Errorf("filter: matches: %w", err)
	}

	ret := L.Get(-1)
	L.Pop(1)
	return lua.LVAsBool(ret), nil
}

// Close releases the VM.
func (f *Filter) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Close()
}

// frameTable flattens a record into the table handed to the script.
func frameTable(L *lua.LState, rec *capture.Record) *lua.LTable {
	res := rec.Result
	fr := res.Frame

	t := L.NewTable()
	t.RawSetString("num", lua.LNumber(rec.Num))
	t.RawSetString("type", lua.LString(fr.Type.String()))
	t.RawSetString("src_pan", lua.LNumber(fr.SrcPAN))
	t.RawSetString("fcs_ok", lua.LBool(res.FCS.Status == mac.FCSOK))
	t.RawSetString("payload_len", lua.LNumber(len(res.Payload)))

	if fr.SeqPresent {
		t.RawSetString("seq", lua.LNumber(fr.Seq))
	}
	if fr.Src.Mode().Present() {
		t.RawSetString("src", lua.LString(fr.Src.String()))
	}
	if fr.DstPANPresent {
		t.RawSetString("dst_pan", lua.LNumber(fr.DstPAN))
	}
	if fr.Dst.Mode().Present() {
		t.RawSetString("dst", lua.LString(fr.Dst.String()))
	}
	if fr.Security != nil {
		t.RawSetString("security_level", lua.LNumber(fr.Security.Level))
		t.RawSetString("decrypt", lua.LString(res.Decrypt.String()))
	}
	if fr.Command != nil {
		t.RawSetString("command", lua.LString(fr.Command.ID.String()))
	}
	if len(res.Warnings) > 0 {
		warns := L.NewTable()
		for _, w := range res.Warnings {
			warns.Append(lua.LString(w))
		}
		t.RawSetString("warnings", warns)
	}
	return t
}
