package crucible

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_UnresolvedCapabilityError(t *testing.T) {
	err := &UnresolvedCapabilityError{Name: "foo"}
	assert.ErrorIs(t, err, ErrUnresolvedCapability)
	assert.Equal(t, "unresolved capability: foo", err.Error())

	withModule := &UnresolvedCapabilityError{Name: "digest.md5hex", Module: "digest"}
	assert.Contains(t, withModule.Error(), "module digest")
}

func Test_RelaxedExecutionError(t *testing.T) {
	cause := errors.New("attempt to call a nil value")
	err := &RelaxedExecutionError{Fragment: `bad()`, Cause: cause}

	assert.ErrorIs(t, err, ErrRelaxedExecution)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), `"bad()"`)
	assert.Contains(t, err.Error(), "attempt to call a nil value")
}

func Test_InjectionError_WrapsCause(t *testing.T) {
	cause := &RelaxedExecutionError{Fragment: "x", Cause: errors.New("boom")}
	err := &InjectionError{Compartment: "trusted/main", Cause: cause}

	assert.ErrorIs(t, err, ErrInjectionFailed)
	assert.ErrorIs(t, err, ErrRelaxedExecution)

	var ree *RelaxedExecutionError
	require.ErrorAs(t, err, &ree)
	assert.Equal(t, "x", ree.Fragment)
	assert.Contains(t, err.Error(), "trusted/main")
}
