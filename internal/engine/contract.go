package engine

import (
	"context"
	"fmt"

	"github.com/seantiz/taskd/internal/component"
)

// ComponentName is the name under which the engine serves its contract to
// other components.
const ComponentName = "tasks"

// Contract methods callable through Component.
const (
	MethodAPIVersion      = "apiVersion"
	MethodCreateDelegated = "createDelegated"
	MethodRunScript       = "runScript"
	MethodRunScriptRecord = "runScriptRecord"
	MethodUpdate          = "update"
	MethodFinish          = "finish"
	MethodStop            = "stop"
)

// Component exposes the engine's cross-component contract as a
// component.Component, so it can be served to other processes.
func (e *Engine) Component() component.Component {
	return &component.Local{
		StopFunc: func(ctx context.Context, taskID string) bool {
			ok, err := e.Stop(ctx, taskID)
			if err != nil {
				e.logger.Error("remote stop", "task_id", taskID, "error", err)
			}
			return ok
		},
		Methods: map[string]component.Method{
			MethodAPIVersion: func(context.Context, component.Params) (component.Params, error) {
				return component.Params{{Key: "version", Value: component.String(APIVersion)}}, nil
			},
			MethodCreateDelegated: func(ctx context.Context, p component.Params) (component.Params, error) {
				name, err := stringParam(p, "name")
				if err != nil {
					return nil, err
				}
				owner, err := stringParam(p, "owner")
				if err != nil {
					return nil, err
				}
				id, err := e.CreateDelegated(ctx, name, optionalString(p, "detail"), owner)
				if err != nil {
					return nil, err
				}
				return idResult(id), nil
			},
			MethodRunScript: func(ctx context.Context, p component.Params) (component.Params, error) {
				name, err := stringParam(p, "name")
				if err != nil {
					return nil, err
				}
				code, err := stringParam(p, "code")
				if err != nil {
					return nil, err
				}
				id, err := e.RunScript(ctx, name, optionalString(p, "detail"), code)
				if err != nil {
					return nil, err
				}
				return idResult(id), nil
			},
			MethodRunScriptRecord: func(ctx context.Context, p component.Params) (component.Params, error) {
				scriptID, err := stringParam(p, "script_id")
				if err != nil {
					return nil, err
				}
				name := ""
				if v := optionalString(p, "name"); v != nil {
					name = *v
				}
				id, ok, err := e.RunScriptRecord(ctx, name, optionalString(p, "detail"), scriptID)
				if err != nil {
					return nil, err
				}
				return component.Params{
					{Key: "id", Value: component.String(id)},
					{Key: "ok", Value: component.Bool(ok)},
				}, nil
			},
			MethodUpdate: func(ctx context.Context, p component.Params) (component.Params, error) {
				id, err := stringParam(p, "id")
				if err != nil {
					return nil, err
				}
				output := ""
				if v := optionalString(p, "output"); v != nil {
					output = *v
				}
				percent, _ := p.Get("percent")
				ok, err := e.Update(ctx, id, output, int(percent.Int))
				if err != nil {
					return nil, err
				}
				return okResult(ok), nil
			},
			MethodFinish: func(ctx context.Context, p component.Params) (component.Params, error) {
				id, err := stringParam(p, "id")
				if err != nil {
					return nil, err
				}
				result, found := p.Get("result")
				if !found || result.Kind != component.KindInteger {
					return nil, fmt.Errorf("param %q: integer required", "result")
				}
				ok, err := e.Finish(ctx, id, int(result.Int))
				if err != nil {
					return nil, err
				}
				return okResult(ok), nil
			},
			MethodStop: func(ctx context.Context, p component.Params) (component.Params, error) {
				id, err := stringParam(p, "id")
				if err != nil {
					return nil, err
				}
				ok, err := e.Stop(ctx, id)
				if err != nil {
					return nil, err
				}
				return okResult(ok), nil
			},
		},
	}
}

func stringParam(p component.Params, key string) (string, error) {
	v, ok := p.Get(key)
	if !ok || v.Kind != component.KindString || v.Str == "" {
		return "", fmt.Errorf("param %q: non-empty string required", key)
	}
	return v.Str, nil
}

func optionalString(p component.Params, key string) *string {
	v, ok := p.Get(key)
	if !ok || v.Kind != component.KindString {
		return nil
	}
	s := v.Str
	return &s
}

func idResult(id string) component.Params {
	return component.Params{{Key: "id", Value: component.String(id)}}
}

func okResult(ok bool) component.Params {
	return component.Params{{Key: "ok", Value: component.Bool(ok)}}
}
