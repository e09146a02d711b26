package model_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nubegest/approvals/model"
)

func TestErrorEnvelopeMessage(t *testing.T) {
	err := model.NewStateConflictError("instance already processed")
	assert.EqualError(t, err, "STATE_CONFLICT: instance already processed")
}

func TestIsCode(t *testing.T) {
	err := model.NewPermissionError("not an approver")
	assert.True(t, model.IsCode(err, model.ErrPermissionDenied))
	assert.False(t, model.IsCode(err, model.ErrStateConflict))
	assert.False(t, model.IsCode(nil, model.ErrPermissionDenied))
	assert.False(t, model.IsCode(fmt.Errorf("plain"), model.ErrPermissionDenied))
}

func TestIsCodeUnwrapsWrappedErrors(t *testing.T) {
	inner := model.NewConfigurationError("no inicio step")
	wrapped := fmt.Errorf("starting workflow: %w", inner)
	assert.True(t, model.IsCode(wrapped, model.ErrConfiguration))
}
