// Package script evaluates user-supplied JavaScript in a sandboxed goja
// runtime. The runtime has no access to the filesystem, network or process;
// scripts interact with the outside only through the two host functions
// bound by Run:
//
//	reportProgress(output, percent)
//	callComponent(name, method, params)
//
// A script's completion value is its integer return code.
package script

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/dop251/goja"

	"github.com/seantiz/taskd/internal/component"
)

// Names of the functions bound into every runtime.
const (
	FuncReportProgress = "reportProgress"
	FuncCallComponent  = "callComponent"
)

// ErrAborted is returned by a Host to end evaluation immediately. Scripts
// cannot catch it.
var ErrAborted = errors.New("script aborted")

// Host is the capability surface a running script is granted. Any error
// other than ErrAborted is raised in the script as a catchable exception.
type Host interface {
	ReportProgress(ctx context.Context, output string, percent int) error
	CallComponent(ctx context.Context, name, method string, params component.Params) (component.Params, error)
}

// Run evaluates code in a fresh runtime bound to host and returns the
// script's return code. An undefined or null completion value counts as 0.
//
// Errors wrapping ErrAborted mean the host asked to stop; errors wrapping
// ctx.Err() mean ctx ended mid-evaluation. Any other error is a script
// failure whose text is suitable for the task output.
func Run(ctx context.Context, code string, host Host) (int, error) {
	prog, err := goja.Compile("script", code, true)
	if err != nil {
		return 0, err
	}

	vm := goja.New()
	s := &sandbox{ctx: ctx, vm: vm, host: host}
	if err := vm.Set(FuncReportProgress, s.reportProgress); err != nil {
		return 0, fmt.Errorf("bind %s: %w", FuncReportProgress, err)
	}
	if err := vm.Set(FuncCallComponent, s.callComponent); err != nil {
		return 0, fmt.Errorf("bind %s: %w", FuncCallComponent, err)
	}

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	v, err := vm.RunProgram(prog)
	if s.aborted {
		return 0, ErrAborted
	}
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if cause, ok := interrupted.Value().(error); ok {
				return 0, cause
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, fmt.Errorf("%w: %v", ctxErr, err)
		}
		return 0, err
	}
	return returnCode(v)
}

type sandbox struct {
	ctx     context.Context
	vm      *goja.Runtime
	host    Host
	aborted bool
}

func (s *sandbox) reportProgress(call goja.FunctionCall) goja.Value {
	output := ""
	if arg := call.Argument(0); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
		output = arg.String()
	}
	percent := int(call.Argument(1).ToInteger())

	s.check(s.host.ReportProgress(s.ctx, output, percent))
	return goja.Undefined()
}

func (s *sandbox) callComponent(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	method := call.Argument(1).String()
	params, err := toParams(call.Argument(2))
	if err != nil {
		panic(s.vm.NewTypeError(err.Error()))
	}

	result, err := s.host.CallComponent(s.ctx, name, method, params)
	s.check(err)
	return fromParams(s.vm, result)
}

// check turns a host error into the matching script-side effect: ErrAborted
// interrupts the runtime, anything else is thrown as a catchable error.
func (s *sandbox) check(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, ErrAborted) {
		s.aborted = true
		s.vm.Interrupt(ErrAborted)
		// Unwind the current call; the pending interrupt then ends
		// evaluation before any catch block can run.
		panic(s.vm.NewGoError(ErrAborted))
	}
	panic(s.vm.NewGoError(err))
}

// toParams converts a plain JS object into ordered params. undefined and
// null yield no params.
func toParams(v goja.Value) (component.Params, error) {
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, fmt.Errorf("params must be an object, got %s", v.String())
	}

	keys := obj.Keys()
	params := make(component.Params, 0, len(keys))
	for _, key := range keys {
		val, err := toValue(obj.Get(key))
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", key, err)
		}
		params = append(params, component.Param{Key: key, Value: val})
	}
	return params, nil
}

func toValue(v goja.Value) (component.Value, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return component.Value{}, errors.New("value is null or undefined")
	}
	switch x := v.Export().(type) {
	case string:
		return component.String(x), nil
	case bool:
		return component.Bool(x), nil
	case int64:
		return component.Int(x), nil
	case float64:
		return component.Float(x), nil
	default:
		return component.Value{}, fmt.Errorf("unsupported type %T", x)
	}
}

func fromParams(vm *goja.Runtime, params component.Params) goja.Value {
	obj := vm.NewObject()
	for _, p := range params {
		_ = obj.Set(p.Key, p.Value.Any())
	}
	return obj
}

func returnCode(v goja.Value) (int, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0, nil
	}
	switch x := v.Export().(type) {
	case int64:
		if x >= math.MinInt32 && x <= math.MaxInt32 {
			return int(x), nil
		}
	case float64:
		if x == math.Trunc(x) && x >= math.MinInt32 && x <= math.MaxInt32 {
			return int(x), nil
		}
	}
	return 0, fmt.Errorf("script must return an integer return code, got %s", v.String())
}
