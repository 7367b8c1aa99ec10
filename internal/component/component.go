package component

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a component name is not registered.
	ErrNotFound = errors.New("component not found")

	// ErrExists is returned when registering a name that is already taken.
	ErrExists = errors.New("component already registered")

	// ErrUnknownMethod is returned by Call for a method the component does
	// not expose.
	ErrUnknownMethod = errors.New("unknown method")
)

// Component is implemented by anything that can own tasks or be called from
// a script.
type Component interface {
	// Stop asks the component to stop the task it owns. It reports whether
	// the request was acknowledged.
	Stop(ctx context.Context, taskID string) bool

	// Call invokes a named method with ordered parameters.
	Call(ctx context.Context, method string, params Params) (Params, error)
}

// Kind tags the type held by a Value.
type Kind string

const (
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindFloat   Kind = "float"
	KindBoolean Kind = "boolean"
)

// Value is a tagged scalar: exactly one of the typed fields is meaningful,
// selected by Kind.
type Value struct {
	Kind  Kind
	Str   string
	Int   int64
	Float float64
	Bool  bool
}

func String(s string) Value { return Value{Kind: KindString, Str: s} }
func Int(i int64) Value { return Value{Kind: KindInteger, Int: i} }
func Float(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func Bool(b bool) Value { return Value{Kind: KindBoolean, Bool: b} }

// Any returns the Go value held by v.
func (v Value) Any() any {
	switch v.Kind {
	case KindInteger:
		return v.Int
	case KindFloat:
		return v.Float
	case KindBoolean:
		return v.Bool
	default:
		return v.Str
	}
}

func (v Value) String() string {
	return fmt.Sprint(v.Any())
}

// Param is one named entry of a parameter list.
type Param struct {
	Key   string
	Value Value
}

type wireParam struct {
	Key   string          `json:"key"`
	Type  Kind            `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes p as {"key","type","value"}.
func (p Param) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(p.Value.Any())
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireParam{Key: p.Key, Type: p.Value.Kind, Value: raw})
}

// UnmarshalJSON decodes the {"key","type","value"} form.
func (p *Param) UnmarshalJSON(data []byte) error {
	var w wireParam
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	v := Value{Kind: w.Type}
	var err error
	switch w.Type {
	case KindString:
		err = json.Unmarshal(w.Value, &v.Str)
	case KindInteger:
		err = json.Unmarshal(w.Value, &v.Int)
	case KindFloat:
		err = json.Unmarshal(w.Value, &v.Float)
	case KindBoolean:
		err = json.Unmarshal(w.Value, &v.Bool)
	default:
		return fmt.Errorf("param %q: unsupported type %q", w.Key, w.Type)
	}
	if err != nil {
		return fmt.Errorf("param %q: %w", w.Key, err)
	}
	p.Key, p.Value = w.Key, v
	return nil
}

// Params is an ordered list of parameters. Keys are expected to be unique.
type Params []Param

// Get returns the value stored under key.
func (ps Params) Get(key string) (Value, bool) {
	for _, p := range ps {
		if p.Key == key {
			return p.Value, true
		}
	}
	return Value{}, false
}

// Set replaces the value under key, or appends it if absent.
func (ps Params) Set(key string, v Value) Params {
	for i := range ps {
		if ps[i].Key == key {
			ps[i].Value = v
			return ps
		}
	}
	return append(ps, Param{Key: key, Value: v})
}

// Method handles one call on a Local component.
type Method func(ctx context.Context, params Params) (Params, error)

// Local is an in-process component assembled from functions. A nil StopFunc
// refuses every stop request.
type Local struct {
	StopFunc func(ctx context.Context, taskID string) bool
	Methods  map[string]Method
}

// Stop implements Component.
func (l *Local) Stop(ctx context.Context, taskID string) bool {
	if l.StopFunc == nil {
		return false
	}
	return l.StopFunc(ctx, taskID)
}

// Call implements Component.
func (l *Local) Call(ctx context.Context, method string, params Params) (Params, error) {
	m, ok := l.Methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	return m(ctx, params)
}
