package pipe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayload_KeysCompareByIdentity(t *testing.T) {
	first := NewKey[string]("scope")
	second := NewKey[string]("scope")
	c := &testContext{}

	AddOrUpdatePayload(c, first, "outer")

	got, ok := TryGetPayload(c, first)
	require.True(t, ok)
	assert.Equal(t, "outer", got)

	_, ok = TryGetPayload(c, second)
	assert.False(t, ok)
	assert.Equal(t, "payload(scope)", first.String())
}

func TestPayload_ZeroKeyNeverMatches(t *testing.T) {
	var key Key[int]
	_, ok := TryGetPayload(&testContext{}, key)
	assert.False(t, ok)
}

func TestGetOrAddPayload(t *testing.T) {
	key := NewKey[int]("counter")
	c := &testContext{}
	calls := 0
	factory := func() (int, error) {
		calls++
		return 42, nil
	}

	v, err := GetOrAddPayload(c, key, factory)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = GetOrAddPayload(c, key, factory)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls)
}

func TestGetOrAddPayload_FactoryError(t *testing.T) {
	key := NewKey[int]("broken")
	c := &testContext{}
	boom := errors.New("boom")

	_, err := GetOrAddPayload(c, key, func() (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	_, ok := TryGetPayload(c, key)
	assert.False(t, ok)
}

func TestSetPayload_RestoresPreviousValue(t *testing.T) {
	key := NewKey[string]("scope")
	c := &testContext{}

	restoreOuter := SetPayload(c, key, "outer")
	restoreInner := SetPayload(c, key, "inner")

	got, _ := TryGetPayload(c, key)
	assert.Equal(t, "inner", got)

	restoreInner()
	got, _ = TryGetPayload(c, key)
	assert.Equal(t, "outer", got)

	restoreOuter()
	_, ok := TryGetPayload(c, key)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Payloads().Len())
}
