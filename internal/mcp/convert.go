package mcp

import (
	"context"

	"github.com/ctagard/vmdebug-mcp/internal/vm"
	"github.com/ctagard/vmdebug-mcp/pkg/types"
)

func toLocation(ctx context.Context, conn *vm.Connection, loc *vm.Location) *types.Location {
	if loc == nil {
		return nil
	}
	return &types.Location{
		URL:         loc.URL,
		LibraryID:   loc.LibraryID,
		TokenOffset: loc.TokenOffset,
		Line:        conn.LineNumber(ctx, loc),
	}
}

func toVariable(name string, value *vm.Value) types.Variable {
	if value == nil {
		return types.Variable{Name: name, Kind: "unevaluated"}
	}
	v := types.Variable{
		Name:  name,
		Kind:  value.Kind.String(),
		Value: value.String(),
	}
	if value.IsObject() || value.IsList() {
		v.ObjectID = value.ObjectID
		if value.ClassID >= 0 {
			v.ClassID = value.ClassID
		}
	}
	if value.IsList() {
		v.Length = value.Length
	}
	return v
}

// toVariables converts without fetching; unevaluated list elements stay unevaluated.
func toVariables(vars []*vm.Variable) []types.Variable {
	out := make([]types.Variable, len(vars))
	for i, v := range vars {
		out[i] = toVariable(v.Name, v.Peek())
	}
	return out
}

func toStackFrames(ctx context.Context, conn *vm.Connection, frames []*vm.CallFrame, depth int, locals bool) []types.StackFrame {
	if depth > 0 && len(frames) > depth {
		frames = frames[:depth]
	}
	out := make([]types.StackFrame, len(frames))
	for i, f := range frames {
		sf := types.StackFrame{
			ID:        f.FrameID,
			Function:  f.FunctionName,
			LibraryID: f.LibraryID,
			Location:  toLocation(ctx, conn, f.Location),
		}
		if f.HasClass() {
			sf.ClassID = f.ClassID
		}
		if locals {
			sf.Locals = toVariables(f.Locals)
		}
		out[i] = sf
	}
	return out
}

func toEvaluateResult(value *vm.Value) types.EvaluateResult {
	v := toVariable("", value)
	return types.EvaluateResult{
		Kind:     v.Kind,
		Result:   v.Value,
		ObjectID: v.ObjectID,
		ClassID:  v.ClassID,
		Length:   v.Length,
	}
}

func toBreakpoint(ctx context.Context, conn *vm.Connection, bp *vm.Breakpoint) types.Breakpoint {
	loc := bp.Location()
	return types.Breakpoint{
		ID:        bp.ID(),
		IsolateID: bp.Isolate().ID(),
		Verified:  loc != nil,
		Location:  toLocation(ctx, conn, loc),
	}
}

func toIsolateInfo(session *vm.Session, isolate *vm.Isolate) types.IsolateInfo {
	info := types.IsolateInfo{
		ID:         isolate.ID(),
		Paused:     isolate.IsPaused(),
		Stepping:   isolate.IsStepping(),
		FirstBreak: isolate.IsFirstBreak(),
	}
	if ps, ok := session.PauseState(isolate.ID()); ok {
		info.Reason = ps.Reason.String()
	}
	return info
}
