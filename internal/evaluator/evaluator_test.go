package evaluator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-build/crucible/internal/ctxlog"
	"github.com/crucible-build/crucible/internal/key"
	"github.com/crucible-build/crucible/internal/scope"
)

// testContext carries the logger that Evaluator.NewContext requires.
func testContext() context.Context {
	return ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

var greeting = key.New[string]("greeting", "a greeting")
var count = key.New[int]("count", "a count", key.WithDefault(5))

func rootScope(name string, holders ...scope.Holder) *scope.Scope {
	var h scope.Holder
	if len(holders) > 0 {
		h = holders[0]
	} else {
		h = key.NewBindingHolder(name)
	}
	return scope.Root(name, h)
}

func TestEvaluate_ReturnsDefaultWhenUnbound(t *testing.T) {
	e := New()
	s := rootScope("demo")
	sctx := e.NewContext(testContext(), s, nil)

	v, err := Evaluate(e, sctx, count)
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestEvaluate_FailsWhenUnboundAndNoDefault(t *testing.T) {
	e := New()
	s := rootScope("demo")
	sctx := e.NewContext(testContext(), s, nil)

	_, err := Evaluate(e, sctx, greeting)
	assert.ErrorIs(t, err, ErrKeyNotAssigned)
}

func TestEvaluate_UsesBoundValue(t *testing.T) {
	h := key.NewBindingHolder("project")
	key.Bind(h, greeting, func(*scope.Context) (string, error) { return "hi", nil })

	e := New()
	s := rootScope("demo", h)
	sctx := e.NewContext(testContext(), s, nil)

	v, err := Evaluate(e, sctx, greeting)
	require.NoError(t, err)
	assert.Equal(t, "hi", v)
}

func TestEvaluate_AppliesModifiersOutermostLast(t *testing.T) {
	project := key.NewBindingHolder("project")
	key.Bind(project, greeting, func(*scope.Context) (string, error) { return "base", nil })
	key.Modify(project, greeting, func(_ *scope.Context, v string) (string, error) { return v + "-outer", nil })

	e := New()
	baseScope := scope.Root("demo", project)

	inner := key.NewConfiguration("release", nil)
	key.Modify(inner.BindingHolder, greeting, func(_ *scope.Context, v string) (string, error) { return v + "-inner", nil })
	layered := e.Table().Layer(baseScope, inner)

	sctx := e.NewContext(testContext(), layered, nil)
	v, err := Evaluate(e, sctx, greeting)
	require.NoError(t, err)
	// project's binding is found at the outer holder; modifiers are
	// collected from layered's holder (release) and then its parent scope's
	// (project), and
	// applied in reverse (project's modifier first, then release's).
	assert.Equal(t, "base-outer-inner", v)
}

func TestEvaluate_BindingErrorWraps(t *testing.T) {
	h := key.NewBindingHolder("project")
	cause := errors.New("boom")
	key.Bind(h, greeting, func(*scope.Context) (string, error) { return "", cause })

	e := New()
	s := rootScope("demo", h)
	sctx := e.NewContext(testContext(), s, nil)

	_, err := Evaluate(e, sctx, greeting)
	require.Error(t, err)
	var be *BindingError
	require.True(t, errors.As(err, &be))
	assert.True(t, be.FromBinding)
	assert.ErrorIs(t, err, cause)
}

func TestEvaluate_ModifierErrorWraps(t *testing.T) {
	h := key.NewBindingHolder("project")
	key.Bind(h, greeting, func(*scope.Context) (string, error) { return "base", nil })
	cause := errors.New("modifier failed")
	key.Modify(h, greeting, func(_ *scope.Context, v string) (string, error) { return "", cause })

	e := New()
	s := rootScope("demo", h)
	sctx := e.NewContext(testContext(), s, nil)

	_, err := Evaluate(e, sctx, greeting)
	require.Error(t, err)
	var be *BindingError
	require.True(t, errors.As(err, &be))
	assert.False(t, be.FromBinding)
}

func TestEvaluate_CancelledContextFailsFast(t *testing.T) {
	h := key.NewBindingHolder("project")
	key.Bind(h, greeting, func(*scope.Context) (string, error) { return "hi", nil })

	e := New()
	s := rootScope("demo", h)
	ctx, cancel := context.WithCancel(testContext())
	cancel()
	sctx := e.NewContext(ctx, s, nil)

	_, err := Evaluate(e, sctx, greeting)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluateOrElse_ReturnsFallbackWhenUnbound(t *testing.T) {
	e := New()
	s := rootScope("demo")
	sctx := e.NewContext(testContext(), s, nil)

	v, err := EvaluateOrElse(e, sctx, greeting, "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)
}

func TestEvaluateOrElse_PropagatesOtherErrors(t *testing.T) {
	h := key.NewBindingHolder("project")
	cause := errors.New("boom")
	key.Bind(h, greeting, func(*scope.Context) (string, error) { return "", cause })

	e := New()
	s := rootScope("demo", h)
	sctx := e.NewContext(testContext(), s, nil)

	_, err := EvaluateOrElse(e, sctx, greeting, "fallback")
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
}

func TestEvaluate_ReentrantNestedCallSucceeds(t *testing.T) {
	h := key.NewBindingHolder("project")
	key.Bind(h, count, func(*scope.Context) (int, error) { return 1, nil })
	key.Bind(h, greeting, func(sctx *scope.Context) (string, error) {
		n, err := key.Get(sctx, count)
		if err != nil {
			return "", err
		}
		if n != 1 {
			return "wrong", nil
		}
		return "nested-ok", nil
	})

	e := New()
	s := rootScope("demo", h)
	sctx := e.NewContext(testContext(), s, nil)

	v, err := Evaluate(e, sctx, greeting)
	require.NoError(t, err)
	assert.Equal(t, "nested-ok", v)
}

func TestEvaluate_NestedGenericCallSameGoroutineSucceeds(t *testing.T) {
	h := key.NewBindingHolder("project")
	key.Bind(h, count, func(*scope.Context) (int, error) { return 1, nil })

	e := New()
	key.Bind(h, greeting, func(sctx *scope.Context) (string, error) {
		n, err := Evaluate(e, sctx, count)
		if err != nil {
			return "", err
		}
		if n != 1 {
			return "wrong", nil
		}
		return "nested-ok", nil
	})

	s := rootScope("demo", h)
	sctx := e.NewContext(testContext(), s, nil)

	v, err := Evaluate(e, sctx, greeting)
	require.NoError(t, err)
	assert.Equal(t, "nested-ok", v)
	assert.Nil(t, e.current, "activation must be cleared once every re-entrant call has exited")
}

func TestEvaluate_ConcurrentCallFromDifferentGoroutineFails(t *testing.T) {
	h := key.NewBindingHolder("project")
	started := make(chan struct{})
	release := make(chan struct{})
	key.Bind(h, greeting, func(*scope.Context) (string, error) {
		close(started)
		<-release
		return "hi", nil
	})

	e := New()
	s := rootScope("demo", h)
	sctx := e.NewContext(testContext(), s, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := Evaluate(e, sctx, greeting)
		errCh <- err
	}()

	<-started
	_, err := Evaluate(e, sctx, count)
	assert.ErrorIs(t, err, ErrConcurrentEvaluation)

	close(release)
	require.NoError(t, <-errCh)
	assert.Nil(t, e.current)
}

// recordingListener captures every event fired during a single Evaluate
// call, for asserting the Started/terminating-event pairing contract.
type recordingListener struct {
	events []string
}

func (l *recordingListener) Started(s *scope.Scope, key string) {
	l.events = append(l.events, "started:"+key)
}
func (l *recordingListener) HasModifiers(s *scope.Scope, holder string, count int) {
	l.events = append(l.events, "modifiers:"+holder)
}
func (l *recordingListener) Feature(tag string) { l.events = append(l.events, "feature:"+tag) }
func (l *recordingListener) Succeeded(key string, result any) {
	l.events = append(l.events, "succeeded:"+key)
}
func (l *recordingListener) FailedNoBinding(hasFallback bool, fallback any) {
	l.events = append(l.events, "no-binding")
}
func (l *recordingListener) FailedError(err error, fromBinding bool) {
	l.events = append(l.events, "failed-error")
}

func TestEvaluate_EmitsStartedThenSucceeded(t *testing.T) {
	h := key.NewBindingHolder("project")
	key.Bind(h, greeting, func(*scope.Context) (string, error) { return "hi", nil })
	key.Modify(h, greeting, func(_ *scope.Context, v string) (string, error) { return v, nil })

	e := New()
	l := &recordingListener{}
	e.SetListener(l)
	s := rootScope("demo", h)
	sctx := e.NewContext(testContext(), s, nil)

	_, err := Evaluate(e, sctx, greeting)
	require.NoError(t, err)
	require.Len(t, l.events, 3)
	assert.Equal(t, "started:greeting", l.events[0])
	assert.Equal(t, "modifiers:project", l.events[1])
	assert.Equal(t, "succeeded:greeting", l.events[2])
}

func TestEvaluate_EmitsFailedNoBinding(t *testing.T) {
	e := New()
	l := &recordingListener{}
	e.SetListener(l)
	s := rootScope("demo")
	sctx := e.NewContext(testContext(), s, nil)

	_, err := Evaluate(e, sctx, greeting)
	require.Error(t, err)
	assert.Contains(t, l.events, "no-binding")
}

func TestSetListener_NilInstallsNopListener(t *testing.T) {
	e := New()
	e.SetListener(nil)
	assert.IsType(t, NopListener{}, e.listener)
}

func TestBindingError_Error_NamesBindingOrModifier(t *testing.T) {
	cause := errors.New("x")
	bindingErr := &BindingError{Key: "greeting", FromBinding: true, Cause: cause}
	assert.Contains(t, bindingErr.Error(), "binding")

	modErr := &BindingError{Key: "greeting", FromBinding: false, Cause: cause}
	assert.Contains(t, modErr.Error(), "modifier")
	assert.ErrorIs(t, modErr, cause)
}

func TestNewContext_WiresFeatureToListener(t *testing.T) {
	e := New()
	l := &recordingListener{}
	e.SetListener(l)
	s := rootScope("demo")
	sctx := e.NewContext(testContext(), s, nil)

	sctx.ReportFeature("cache-hit")
	assert.Contains(t, l.events, "feature:cache-hit")
}
