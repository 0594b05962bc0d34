package message

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ping struct{ n int }
type started struct{}

func TestTypeIdentity(t *testing.T) {
	a := TypeOf[ping]()
	b := TypeOf[ping]()
	c := TypeOf[started]()

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "message.ping", a.String())
}

func TestNewMessageCarriesPayload(t *testing.T) {
	m := New(ping{n: 7})

	require.False(t, m.IsSignal())
	require.False(t, m.Mutable())
	assert.Equal(t, TypeOf[ping](), m.Type())
	assert.Equal(t, ping{n: 7}, m.Payload())
}

func TestNewMutableMessage(t *testing.T) {
	m := NewMutable(ping{n: 1})
	assert.True(t, m.Mutable())
}

func TestNewSignalHasNoPayload(t *testing.T) {
	s := NewSignal[started]()

	assert.True(t, s.IsSignal())
	assert.Nil(t, s.Payload())
	assert.Equal(t, SignalType[started](), s.Type())
}

func TestRetainRelease(t *testing.T) {
	m := New(ping{n: 1})
	assert.EqualValues(t, 2, m.Retain())
	assert.EqualValues(t, 1, m.Release())
	assert.EqualValues(t, 0, m.Release())
}

type invokeFn func() error

func (f invokeFn) Invoke() error { return f() }

type suppressingEnvelope struct{ suppressed *bool }

func (e suppressingEnvelope) HandlerFound(inv Invoker) error {
	*e.suppressed = true
	return nil
}

func (e suppressingEnvelope) Transformation(inv Invoker) (any, bool) {
	return nil, false
}

func TestWrapPreservesTypeAndPayload(t *testing.T) {
	inner := New(ping{n: 3})
	suppressed := false
	env := suppressingEnvelope{suppressed: &suppressed}

	wrapped := Wrap(inner, env)

	assert.Equal(t, inner.Type(), wrapped.Type())
	assert.Equal(t, inner.Payload(), wrapped.Payload())
	require.NotNil(t, wrapped.Envelope())

	called := false
	err := wrapped.Envelope().HandlerFound(invokeFn(func() error {
		called = true
		return nil
	}))
	require.NoError(t, err)
	assert.False(t, called, "a suppressing envelope must not let the handler run")
	assert.True(t, suppressed)
}

type passthroughEnvelope struct{}

func (passthroughEnvelope) HandlerFound(inv Invoker) error { return inv.Invoke() }
func (passthroughEnvelope) Transformation(inv Invoker) (any, bool) {
	return nil, false
}

func TestPassthroughEnvelopeInvokesHandler(t *testing.T) {
	wrapped := Wrap(New(ping{n: 9}), passthroughEnvelope{})

	boom := errors.New("boom")
	err := wrapped.Envelope().HandlerFound(invokeFn(func() error { return boom }))
	assert.ErrorIs(t, err, boom)
}
