package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tjsasakifln/bidiq/internal/statemachine"
)

func TestStatus_ZeroValueHasNoState(t *testing.T) {
	var s Status
	assert.Equal(t, statemachine.State(""), s.State)
	assert.Equal(t, 0, s.Progress)
}

func TestInputs_OptionalRangeFieldsDefaultToNil(t *testing.T) {
	var in Inputs
	assert.Nil(t, in.ValorMin)
	assert.Nil(t, in.ValorMax)
	assert.Nil(t, in.DateFrom)
	assert.Nil(t, in.DateTo)
}
