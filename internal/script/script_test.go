package script_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/taskd/internal/component"
	"github.com/seantiz/taskd/internal/script"
)

type progress struct {
	output  string
	percent int
}

// fakeHost records progress reports and answers component calls from a
// fixed set of local components.
type fakeHost struct {
	reports    []progress
	abortAfter int // abort on the report after this many; 0 disables
	components map[string]component.Component
	reportErr  error
}

func (h *fakeHost) ReportProgress(_ context.Context, output string, percent int) error {
	if h.abortAfter > 0 && len(h.reports) >= h.abortAfter {
		return script.ErrAborted
	}
	if h.reportErr != nil {
		return h.reportErr
	}
	h.reports = append(h.reports, progress{output, percent})
	return nil
}

func (h *fakeHost) CallComponent(ctx context.Context, name, method string, params component.Params) (component.Params, error) {
	if h.abortAfter > 0 && len(h.reports) >= h.abortAfter {
		return nil, script.ErrAborted
	}
	c, ok := h.components[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", component.ErrNotFound, name)
	}
	return c.Call(ctx, method, params)
}

func TestRunReturnsCompletionValue(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{"0", 0},
		{"3", 3},
		{"var x = 2; x * 2", 4},
		{"7.0", 7},
		{"", 0},
		{"undefined", 0},
		{"null", 0},
	}
	for _, tc := range tests {
		got, err := script.Run(context.Background(), tc.code, &fakeHost{})
		require.NoError(t, err, "code %q", tc.code)
		assert.Equal(t, tc.want, got, "code %q", tc.code)
	}
}

func TestRunRejectsNonIntegerResult(t *testing.T) {
	for _, code := range []string{`"done"`, "1.5", "({})", "true"} {
		_, err := script.Run(context.Background(), code, &fakeHost{})
		assert.Error(t, err, "code %q", code)
	}
}

func TestRunReportsProgressInOrder(t *testing.T) {
	host := &fakeHost{}
	code, err := script.Run(context.Background(), `
		reportProgress("a", 10);
		reportProgress("b", 20);
		0;
	`, host)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, []progress{{"a", 10}, {"b", 20}}, host.reports)
}

func TestRunScriptErrors(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"syntax", "this is not javascript", "SyntaxError"},
		{"throw", `throw new Error("kaput")`, "kaput"},
		{"reference", "missingFunction()", "missingFunction"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := script.Run(context.Background(), tc.code, &fakeHost{})
			require.Error(t, err)
			assert.False(t, errors.Is(err, script.ErrAborted))
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestRunAbortIsNotCatchable(t *testing.T) {
	host := &fakeHost{abortAfter: 1}
	_, err := script.Run(context.Background(), `
		reportProgress("first", 10);
		try {
			reportProgress("second", 10);
		} catch (e) {
			reportProgress("caught", 10);
		}
		0;
	`, host)
	require.ErrorIs(t, err, script.ErrAborted)
	assert.Equal(t, []progress{{"first", 10}}, host.reports)
}

func TestRunAbortFromCallComponent(t *testing.T) {
	host := &fakeHost{abortAfter: 1}
	_, err := script.Run(context.Background(), `
		reportProgress("x", 1);
		callComponent("any", "thing", {});
		0;
	`, host)
	assert.ErrorIs(t, err, script.ErrAborted)
}

func TestRunHostErrorIsCatchable(t *testing.T) {
	host := &fakeHost{reportErr: errors.New("disk full")}
	code, err := script.Run(context.Background(), `
		var rc = 0;
		try {
			reportProgress("x", 1);
		} catch (e) {
			rc = String(e).indexOf("disk full") >= 0 ? 5 : 6;
		}
		rc;
	`, host)
	require.NoError(t, err)
	assert.Equal(t, 5, code)
}

func TestCallComponentNotFoundIsCatchable(t *testing.T) {
	code, err := script.Run(context.Background(), `
		var rc;
		try {
			callComponent("ghost", "ping", {});
			rc = 0;
		} catch (e) {
			rc = 2;
		}
		rc;
	`, &fakeHost{})
	require.NoError(t, err)
	assert.Equal(t, 2, code)

	_, err = script.Run(context.Background(), `callComponent("ghost", "ping", {}); 0`, &fakeHost{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "component not found")
}

func TestCallComponentTranslatesParams(t *testing.T) {
	var got component.Params
	host := &fakeHost{components: map[string]component.Component{
		"calc": &component.Local{Methods: map[string]component.Method{
			"inspect": func(_ context.Context, p component.Params) (component.Params, error) {
				got = p
				return component.Params{
					{Key: "sum", Value: component.Int(42)},
					{Key: "label", Value: component.String("ok")},
					{Key: "ratio", Value: component.Float(0.5)},
					{Key: "done", Value: component.Bool(true)},
				}, nil
			},
		}},
	}}

	code, err := script.Run(context.Background(), `
		var r = callComponent("calc", "inspect", {name: "n", count: 3, scale: 1.5, on: false});
		(r.sum === 42 && r.label === "ok" && r.ratio === 0.5 && r.done === true) ? 0 : 1;
	`, host)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, component.Params{
		{Key: "name", Value: component.String("n")},
		{Key: "count", Value: component.Int(3)},
		{Key: "scale", Value: component.Float(1.5)},
		{Key: "on", Value: component.Bool(false)},
	}, got)
}

func TestCallComponentRejectsUnsupportedParams(t *testing.T) {
	for _, params := range []string{`{a: null}`, `{a: [1, 2]}`, `{a: {b: 1}}`, `"flat"`} {
		_, err := script.Run(context.Background(),
			`callComponent("calc", "x", `+params+`); 0`, &fakeHost{})
		require.Error(t, err, "params %s", params)
		assert.Contains(t, err.Error(), "TypeError")
	}
}

func TestRunStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := script.Run(ctx, "for (;;) {}", &fakeHost{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunHasNoAmbientCapabilities(t *testing.T) {
	for _, global := range []string{"require", "process", "fetch", "setTimeout"} {
		code, err := script.Run(context.Background(),
			`typeof `+global+` === "undefined" ? 0 : 1`, &fakeHost{})
		require.NoError(t, err)
		assert.Equal(t, 0, code, "%s should not be defined", global)
	}
}
