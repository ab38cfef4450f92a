package bytecode

// TraceInfo describes the instruction about to execute.
type TraceInfo struct {
	Function   string
	Offset     int
	Op         Opcode
	StackDepth int
	FrameDepth int
}

// TraceHook observes every dispatched instruction. Hooks run synchronously
// on the interpreter goroutine and must not retain the VM.
type TraceHook func(TraceInfo)

// SetTraceHook installs or clears (nil) the trace hook.
func (vm *VM) SetTraceHook(hook TraceHook) {
	vm.traceHook = hook
}

// ChainTraceHooks combines hooks into one, skipping nil entries.
func ChainTraceHooks(hooks ...TraceHook) TraceHook {
	var active []TraceHook
	for _, h := range hooks {
		if h != nil {
			active = append(active, h)
		}
	}
	switch len(active) {
	case 0:
		return nil
	case 1:
		return active[0]
	}
	return func(info TraceInfo) {
		for _, h := range active {
			h(info)
		}
	}
}
