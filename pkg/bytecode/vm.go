package bytecode

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"unicode/utf8"
)

// DefaultMaxFrames bounds call depth unless overridden with WithMaxFrames.
const DefaultMaxFrames = 64

// InterpretResult is the terminal state of an Interpret call.
type InterpretResult int

const (
	InterpretOk InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

func (r InterpretResult) String() string {
	switch r {
	case InterpretOk:
		return "Ok"
	case InterpretCompileError:
		return "CompileError"
	case InterpretRuntimeError:
		return "RuntimeError"
	}
	return fmt.Sprintf("InterpretResult(%d)", int(r))
}

// CallFrame is one in-progress function invocation. slot is the stack index
// of the frame's first local; for called functions the callee sits at slot-1.
type CallFrame struct {
	function *Function
	ip       int
	slot     int
	host     bool // returning from this frame hands control back to VM.Call
}

// VM executes chunks on an operand stack with a bounded frame stack. A VM is
// not safe for concurrent use; server code serializes access through a
// worker goroutine.
type VM struct {
	frames    []*CallFrame
	stack     []Value
	globals   map[string]Value
	out       io.Writer
	maxFrames int
	traceHook TraceHook

	// persistLocals keeps the script frame's locals on the stack between
	// Interpret calls (REPL and server sessions).
	persistLocals bool

	result Value
}

// Option configures a VM.
type Option func(*VM)

// WithOutput directs Print/Display output to w.
func WithOutput(w io.Writer) Option {
	return func(vm *VM) { vm.out = w }
}

// WithMaxFrames sets the maximum call depth.
func WithMaxFrames(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.maxFrames = n
		}
	}
}

// WithTraceHook installs a trace hook.
func WithTraceHook(hook TraceHook) Option {
	return func(vm *VM) { vm.traceHook = hook }
}

// WithPersistentLocals keeps top-level locals alive across Interpret calls.
func WithPersistentLocals() Option {
	return func(vm *VM) { vm.persistLocals = true }
}

// NewVM creates a VM with the builtin natives already defined.
func NewVM(opts ...Option) *VM {
	vm := &VM{
		frames:    make([]*CallFrame, 0, DefaultMaxFrames),
		stack:     make([]Value, 0, 256),
		globals:   make(map[string]Value),
		out:       os.Stdout,
		maxFrames: DefaultMaxFrames,
		result:    Null,
	}
	for _, opt := range opts {
		opt(vm)
	}
	RegisterBuiltins(vm)
	return vm
}

// GlobalKey returns the globals-table key for a canonical function name:
// the name wrapped in double quotes.
func GlobalKey(name string) string {
	return `"` + name + `"`
}

// DefineNative binds a Go function as a global under GlobalKey(name).
func (vm *VM) DefineNative(name string, arity int, fn NativeFn) {
	vm.globals[GlobalKey(name)] = FunctionValue(&Function{Name: name, Arity: arity, Native: fn})
}

// Global returns a global by its table key.
func (vm *VM) Global(key string) (Value, bool) {
	v, ok := vm.globals[key]
	return v, ok
}

// SetGlobal binds a global by its table key.
func (vm *VM) SetGlobal(key string, v Value) {
	vm.globals[key] = v
}

// GlobalNames returns the sorted keys of the globals table.
func (vm *VM) GlobalNames() []string {
	names := make([]string, 0, len(vm.globals))
	for k := range vm.globals {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Result returns the value surfaced by the last completed Interpret call.
func (vm *VM) Result() Value {
	return vm.result
}

// StackDepth returns the operand stack height.
func (vm *VM) StackDepth() int {
	return len(vm.stack)
}

// TruncateStack drops stack cells above n. Sessions use it to discard
// partial state after a failed evaluation.
func (vm *VM) TruncateStack(n int) {
	if n < len(vm.stack) {
		vm.stack = vm.stack[:n]
	}
}

// Interpret executes chunk as the top-level script.
func (vm *VM) Interpret(chunk *Chunk) (InterpretResult, error) {
	if chunk == nil {
		return InterpretCompileError, fmt.Errorf("interpret: nil chunk")
	}
	if !vm.persistLocals {
		vm.stack = vm.stack[:0]
	}
	vm.frames = vm.frames[:0]
	vm.result = Null
	vm.frames = append(vm.frames, &CallFrame{
		function: &Function{Name: "script", Chunk: chunk},
		slot:     0,
	})

	if err := vm.execute(); err != nil {
		vm.frames = vm.frames[:0]
		return InterpretRuntimeError, err
	}
	return InterpretOk, nil
}

// Call invokes a function value with arguments outside of bytecode, for
// example from a host. The VM must be idle.
func (vm *VM) Call(fn Value, args ...Value) (Value, error) {
	if len(vm.frames) != 0 {
		return Null, fmt.Errorf("call: VM is already running")
	}
	base := len(vm.stack)
	vm.stack = append(vm.stack, fn)
	vm.stack = append(vm.stack, args...)
	if err := vm.callValue(len(args)); err != nil {
		vm.stack = vm.stack[:base]
		return Null, err
	}
	if len(vm.frames) > 0 {
		vm.frames[len(vm.frames)-1].host = true
		if err := vm.execute(); err != nil {
			vm.frames = vm.frames[:0]
			vm.stack = vm.stack[:base]
			return Null, err
		}
	}
	result := Null
	if len(vm.stack) > base {
		result = vm.stack[len(vm.stack)-1]
	}
	vm.stack = vm.stack[:base]
	return result, nil
}

func (vm *VM) execute() (err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(stackUnderflow); !ok {
				panic(r)
			}
			err = vm.runtimeError("stack underflow")
		}
	}()
	return vm.run()
}

// run is the main execution loop.
func (vm *VM) run() error {
	for {
		frame := vm.frames[len(vm.frames)-1]
		code := frame.function.Chunk.Code
		if frame.ip >= len(code) {
			return vm.runtimeError("instruction pointer ran past end of chunk")
		}

		op, err := DecodeOpcode(code[frame.ip])
		if err != nil {
			return vm.runtimeError("unknown opcode: 0x%02x at offset %d", code[frame.ip], frame.ip)
		}
		if frame.ip+op.InstructionLen() > len(code) {
			return vm.runtimeError("unexpected end of bytecode reading %s operands", op)
		}

		if vm.traceHook != nil {
			vm.traceHook(TraceInfo{
				Function:   frame.function.Name,
				Offset:     frame.ip,
				Op:         op,
				StackDepth: len(vm.stack),
				FrameDepth: len(vm.frames),
			})
		}
		frame.ip++

		switch op.Canonical() {
		// ============ Constants and stack ============
		case OpConstant:
			idx := int(vm.readUint16(frame))
			constants := frame.function.Chunk.Constants
			if idx >= len(constants) {
				return vm.runtimeError("constant index %d out of range", idx)
			}
			vm.push(constants[idx])

		case OpNull:
			vm.push(Null)

		case OpTrue:
			vm.push(BoolValue(true))

		case OpFalse:
			vm.push(BoolValue(false))

		case OpPop:
			vm.pop()

		case OpDup:
			vm.push(vm.peek(0))

		// ============ Variables ============
		case OpGetLocal:
			idx := frame.slot + int(vm.readByte(frame))
			if idx < 0 || idx >= len(vm.stack) {
				return vm.runtimeError("local slot %d out of range", idx-frame.slot)
			}
			vm.push(vm.stack[idx])

		case OpSetLocal:
			idx := frame.slot + int(vm.readByte(frame))
			if idx < 0 || idx >= len(vm.stack) {
				return vm.runtimeError("local slot %d out of range", idx-frame.slot)
			}
			vm.stack[idx] = vm.peek(0)

		case OpGetGlobal:
			name, err := vm.readName(frame)
			if err != nil {
				return err
			}
			v, ok := vm.globals[name]
			if !ok {
				return vm.runtimeError("undefined global %s", name)
			}
			vm.push(v)

		case OpSetGlobal:
			name, err := vm.readName(frame)
			if err != nil {
				return err
			}
			vm.globals[name] = vm.peek(0)

		case OpDefineFunction:
			name, err := vm.readName(frame)
			if err != nil {
				return err
			}
			idx := int(vm.readUint16(frame))
			constants := frame.function.Chunk.Constants
			if idx >= len(constants) || constants[idx].Kind != KindFunction {
				return vm.runtimeError("DEFINE_FUNCTION operand %d is not a function constant", idx)
			}
			vm.globals[name] = constants[idx]
			vm.push(constants[idx])

		// ============ Arithmetic ============
		case OpAdd, OpSubtract, OpMultiply, OpDivide, OpModulo, OpPower:
			if err := vm.arithmetic(op.Canonical()); err != nil {
				return err
			}

		case OpNegate:
			v := vm.pop()
			switch v.Kind {
			case KindInteger:
				vm.push(IntegerValue(-v.Int))
			case KindFloat:
				vm.push(FloatValue(-v.Float))
			default:
				return vm.runtimeError("operand must be a number, got %s", v.TypeName())
			}

		// ============ Strings and introspection ============
		case OpConcat:
			b := vm.pop()
			a := vm.pop()
			if a.Kind != KindString || b.Kind != KindString {
				return vm.runtimeError("can only join strings, got %s and %s", a.TypeName(), b.TypeName())
			}
			vm.push(StringValue(a.Str + b.Str))

		case OpToString:
			vm.push(StringValue(vm.pop().String()))

		case OpLength:
			v := vm.pop()
			switch v.Kind {
			case KindString:
				vm.push(IntegerValue(int64(utf8.RuneCountInString(v.Str))))
			case KindList:
				vm.push(IntegerValue(int64(len(v.Items))))
			case KindDictionary:
				vm.push(IntegerValue(int64(len(v.Pairs))))
			default:
				return vm.runtimeError("%s has no length", v.TypeName())
			}

		case OpContains:
			needle := vm.pop()
			haystack := vm.pop()
			found, err := vm.contains(haystack, needle)
			if err != nil {
				return err
			}
			vm.push(BoolValue(found))

		case OpTypeOf:
			vm.push(StringValue(vm.pop().TypeName()))

		// ============ Logic and comparison ============
		case OpNot:
			v := vm.pop()
			if v.Kind != KindBoolean {
				return vm.runtimeError("operand of not must be a boolean, got %s", v.TypeName())
			}
			vm.push(BoolValue(!v.Bool))

		case OpAnd, OpOr:
			b := vm.pop()
			a := vm.pop()
			if a.Kind != KindBoolean || b.Kind != KindBoolean {
				return vm.runtimeError("operands of %s must be booleans, got %s and %s",
					strings.ToLower(op.String()), a.TypeName(), b.TypeName())
			}
			if op == OpAnd {
				vm.push(BoolValue(a.Bool && b.Bool))
			} else {
				vm.push(BoolValue(a.Bool || b.Bool))
			}

		case OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(BoolValue(a.Equal(b)))

		case OpNotEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(BoolValue(!a.Equal(b)))

		case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
			if err := vm.compare(op.Canonical()); err != nil {
				return err
			}

		// ============ Control flow ============
		case OpJump:
			offset := int(vm.readUint16(frame))
			frame.ip += offset

		case OpJumpIfFalse:
			offset := int(vm.readUint16(frame))
			cond := vm.peek(0)
			if cond.Kind != KindBoolean {
				return vm.runtimeError("condition must be a boolean, got %s", cond.TypeName())
			}
			if !cond.Bool {
				frame.ip += offset
			}

		case OpLoop:
			offset := int(vm.readUint16(frame))
			frame.ip -= offset

		case OpCall:
			argc := int(vm.readByte(frame))
			if err := vm.callValue(argc); err != nil {
				return err
			}

		case OpReturn:
			if vm.returnFrom(frame, Null, false) {
				return nil
			}

		case OpReturnValue:
			if vm.returnFrom(frame, vm.pop(), true) {
				return nil
			}

		// ============ Collections ============
		case OpCreateList:
			n := int(vm.readByte(frame))
			if n > len(vm.stack) {
				return vm.runtimeError("stack underflow")
			}
			items := make([]Value, n)
			copy(items, vm.stack[len(vm.stack)-n:])
			vm.stack = vm.stack[:len(vm.stack)-n]
			vm.push(ListValue(items))

		case OpCreateDict:
			n := int(vm.readByte(frame)) * 2
			if n > len(vm.stack) {
				return vm.runtimeError("stack underflow")
			}
			var dict Value = DictValue(make([]Pair, 0, n/2))
			cells := vm.stack[len(vm.stack)-n:]
			for i := 0; i < n; i += 2 {
				dict = setPair(dict, cells[i], cells[i+1])
			}
			vm.stack = vm.stack[:len(vm.stack)-n]
			vm.push(dict)

		case OpGetItem:
			index := vm.pop()
			target := vm.pop()
			v, err := vm.getItem(target, index)
			if err != nil {
				return err
			}
			vm.push(v)

		case OpSetItem:
			value := vm.pop()
			index := vm.pop()
			target := vm.pop()
			if target.Kind == KindDictionary {
				vm.push(setPair(target, index, value))
				break
			}
			if target.Kind != KindList {
				return vm.runtimeError("cannot assign into %s by index", target.TypeName())
			}
			i, err := vm.listIndex(index, len(target.Items))
			if err != nil {
				return err
			}
			items := make([]Value, len(target.Items))
			copy(items, target.Items)
			items[i] = value
			vm.push(ListValue(items))

		case OpGetDict:
			key := vm.pop()
			dict := vm.pop()
			if dict.Kind != KindDictionary {
				return vm.runtimeError("%s is not a dictionary", dict.TypeName())
			}
			v, _ := dict.Lookup(key)
			vm.push(v)

		case OpSetDict:
			value := vm.pop()
			key := vm.pop()
			dict := vm.pop()
			if dict.Kind != KindDictionary {
				return vm.runtimeError("%s is not a dictionary", dict.TypeName())
			}
			vm.push(setPair(dict, key, value))

		case OpToList:
			v := vm.pop()
			switch v.Kind {
			case KindList:
				vm.push(v)
			case KindDictionary:
				values := make([]Value, len(v.Pairs))
				for i, p := range v.Pairs {
					values[i] = p.Value
				}
				vm.push(ListValue(values))
			case KindString:
				chars := make([]Value, 0, len(v.Str))
				for _, r := range v.Str {
					chars = append(chars, StringValue(string(r)))
				}
				vm.push(ListValue(chars))
			default:
				return vm.runtimeError("cannot iterate over %s", v.TypeName())
			}

		// ============ Output ============
		case OpPrint:
			fmt.Fprintln(vm.out, vm.pop().String())

		default:
			return vm.runtimeError("unknown opcode: 0x%02x at offset %d", byte(op), frame.ip-1)
		}
	}
}

// returnFrom pops frame and reports whether the outermost frame finished.
func (vm *VM) returnFrom(frame *CallFrame, result Value, hasValue bool) bool {
	vm.frames = vm.frames[:len(vm.frames)-1]

	if frame.host {
		vm.stack = vm.stack[:frame.slot-1]
		vm.push(result)
		vm.result = result
		return true
	}

	if len(vm.frames) == 0 {
		if !hasValue && len(vm.stack) > frame.slot {
			result = vm.stack[len(vm.stack)-1]
		}
		vm.result = result
		if !vm.persistLocals {
			vm.stack = vm.stack[:frame.slot]
			if hasValue {
				vm.push(result)
			}
		}
		return true
	}

	// Drop the callee cell together with the frame's locals.
	vm.stack = vm.stack[:frame.slot-1]
	if hasValue {
		vm.push(result)
	}
	return false
}

func (vm *VM) callValue(argc int) error {
	if argc+1 > len(vm.stack) {
		return vm.runtimeError("stack underflow")
	}
	callee := vm.peek(argc)
	if callee.Kind != KindFunction || callee.Fn == nil {
		return vm.runtimeError("can only call functions, got %s", callee.TypeName())
	}
	fn := callee.Fn
	if argc != fn.Arity {
		return vm.runtimeError("%s expected %d arguments but got %d", fn.Name, fn.Arity, argc)
	}

	if fn.IsNative() {
		args := make([]Value, argc)
		copy(args, vm.stack[len(vm.stack)-argc:])
		result, err := fn.Native(args)
		if err != nil {
			rerr := vm.runtimeError("%s: %v", fn.Name, err)
			rerr.Cause = err
			return rerr
		}
		vm.stack = vm.stack[:len(vm.stack)-argc-1]
		vm.push(result)
		return nil
	}

	if fn.Chunk == nil {
		return vm.runtimeError("function %s has no body", fn.Name)
	}
	if len(vm.frames) >= vm.maxFrames {
		return vm.runtimeError("stack overflow: maximum call depth %d exceeded", vm.maxFrames)
	}
	vm.frames = append(vm.frames, &CallFrame{
		function: fn,
		slot:     len(vm.stack) - argc,
	})
	return nil
}

func (vm *VM) arithmetic(op Opcode) error {
	b := vm.pop()
	a := vm.pop()

	if op == OpAdd && a.Kind == KindString && b.Kind == KindString {
		vm.push(StringValue(a.Str + b.Str))
		return nil
	}
	if !a.IsNumber() || !b.IsNumber() {
		return vm.runtimeError("operands of %s must be numbers, got %s and %s",
			strings.ToLower(op.String()), a.TypeName(), b.TypeName())
	}

	if a.Kind == KindInteger && b.Kind == KindInteger {
		x, y := a.Int, b.Int
		switch op {
		case OpAdd:
			vm.push(IntegerValue(x + y))
		case OpSubtract:
			vm.push(IntegerValue(x - y))
		case OpMultiply:
			vm.push(IntegerValue(x * y))
		case OpDivide:
			if y == 0 {
				return vm.runtimeError("division by zero")
			}
			vm.push(IntegerValue(x / y))
		case OpModulo:
			if y == 0 {
				return vm.runtimeError("modulo by zero")
			}
			vm.push(IntegerValue(x % y))
		case OpPower:
			if y < 0 {
				return vm.runtimeError("negative integer exponent %d", y)
			}
			vm.push(IntegerValue(ipow(x, y)))
		}
		return nil
	}

	x, y := a.AsFloat(), b.AsFloat()
	switch op {
	case OpAdd:
		vm.push(FloatValue(x + y))
	case OpSubtract:
		vm.push(FloatValue(x - y))
	case OpMultiply:
		vm.push(FloatValue(x * y))
	case OpDivide:
		if y == 0 {
			return vm.runtimeError("division by zero")
		}
		vm.push(FloatValue(x / y))
	case OpModulo:
		if y == 0 {
			return vm.runtimeError("modulo by zero")
		}
		vm.push(FloatValue(math.Mod(x, y)))
	case OpPower:
		vm.push(FloatValue(math.Pow(x, y)))
	}
	return nil
}

func ipow(base, exp int64) int64 {
	result := int64(1)
	for exp > 0 {
		if exp&1 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}

func (vm *VM) compare(op Opcode) error {
	b := vm.pop()
	a := vm.pop()
	if !a.IsNumber() || !b.IsNumber() {
		return vm.runtimeError("operands of %s must be numbers, got %s and %s",
			strings.ToLower(op.String()), a.TypeName(), b.TypeName())
	}

	var cmp int
	if a.Kind == KindInteger && b.Kind == KindInteger {
		cmp = compareOrdered(a.Int, b.Int)
	} else {
		cmp = compareOrdered(a.AsFloat(), b.AsFloat())
	}

	var result bool
	switch op {
	case OpGreater:
		result = cmp > 0
	case OpGreaterEqual:
		result = cmp >= 0
	case OpLess:
		result = cmp < 0
	case OpLessEqual:
		result = cmp <= 0
	}
	vm.push(BoolValue(result))
	return nil
}

func compareOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (vm *VM) contains(haystack, needle Value) (bool, error) {
	switch haystack.Kind {
	case KindList:
		for _, item := range haystack.Items {
			if item.Equal(needle) {
				return true, nil
			}
		}
		return false, nil
	case KindString:
		if needle.Kind != KindString {
			return false, vm.runtimeError("a string can only contain strings, got %s", needle.TypeName())
		}
		return strings.Contains(haystack.Str, needle.Str), nil
	case KindDictionary:
		_, ok := haystack.Lookup(needle)
		return ok, nil
	}
	return false, vm.runtimeError("%s cannot contain values", haystack.TypeName())
}

func (vm *VM) getItem(target, index Value) (Value, error) {
	switch target.Kind {
	case KindList:
		i, err := vm.listIndex(index, len(target.Items))
		if err != nil {
			return Null, err
		}
		return target.Items[i], nil
	case KindString:
		runes := []rune(target.Str)
		i, err := vm.listIndex(index, len(runes))
		if err != nil {
			return Null, err
		}
		return StringValue(string(runes[i])), nil
	case KindDictionary:
		v, _ := target.Lookup(index)
		return v, nil
	}
	return Null, vm.runtimeError("cannot index into %s", target.TypeName())
}

func (vm *VM) listIndex(index Value, length int) (int, error) {
	var i int64
	switch index.Kind {
	case KindInteger:
		i = index.Int
	case KindFloat:
		if index.Float != math.Trunc(index.Float) {
			return 0, vm.runtimeError("index %s is not a whole number", index)
		}
		i = int64(index.Float)
	default:
		return 0, vm.runtimeError("index must be a number, got %s", index.TypeName())
	}
	if i < 0 || i >= int64(length) {
		return 0, vm.runtimeError("index %d out of bounds (length %d)", i, length)
	}
	return int(i), nil
}

// setPair returns a copy of dict with key bound to value. Existing keys keep
// their position.
func setPair(dict, key, value Value) Value {
	pairs := make([]Pair, len(dict.Pairs), len(dict.Pairs)+1)
	copy(pairs, dict.Pairs)
	for i := range pairs {
		if pairs[i].Key.Equal(key) {
			pairs[i].Value = value
			return DictValue(pairs)
		}
	}
	return DictValue(append(pairs, Pair{Key: key, Value: value}))
}

func (vm *VM) runtimeError(format string, args ...any) *RuntimeError {
	err := &RuntimeError{Message: fmt.Sprintf(format, args...)}
	for i := len(vm.frames) - 1; i >= 0; i-- {
		f := vm.frames[i]
		offset := f.ip
		if offset > 0 {
			offset--
		}
		info := FrameInfo{
			Function: f.function.Name,
			Offset:   offset,
			Line:     int(f.function.Chunk.GetSourceLocation(uint32(offset))),
		}
		err.Stack = append(err.Stack, info)
	}
	if len(err.Stack) > 0 {
		err.Frame = err.Stack[0]
	}
	return err
}

// Stack helpers

func (vm *VM) push(v Value) {
	vm.stack = append(vm.stack, v)
}

func (vm *VM) pop() Value {
	n := len(vm.stack)
	if n == 0 {
		panic(stackUnderflow{})
	}
	v := vm.stack[n-1]
	vm.stack = vm.stack[:n-1]
	return v
}

func (vm *VM) peek(distance int) Value {
	n := len(vm.stack)
	if distance >= n {
		panic(stackUnderflow{})
	}
	return vm.stack[n-1-distance]
}

// Bytecode reading helpers. run checks that the full instruction is present
// before dispatching.

func (vm *VM) readByte(frame *CallFrame) byte {
	b := frame.function.Chunk.Code[frame.ip]
	frame.ip++
	return b
}

func (vm *VM) readUint16(frame *CallFrame) uint16 {
	val := binary.BigEndian.Uint16(frame.function.Chunk.Code[frame.ip:])
	frame.ip += 2
	return val
}

func (vm *VM) readName(frame *CallFrame) (string, error) {
	idx := int(vm.readUint16(frame))
	constants := frame.function.Chunk.Constants
	if idx >= len(constants) || constants[idx].Kind != KindString {
		return "", vm.runtimeError("name operand %d is not a string constant", idx)
	}
	return constants[idx].Str, nil
}
