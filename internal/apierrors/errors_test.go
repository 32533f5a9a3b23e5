package apierrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssignsTaxonomyStatus(t *testing.T) {
	err := New(CodeInvalidModel, "unknown model m-x")
	assert.Equal(t, http.StatusBadRequest, err.Status())
	assert.Equal(t, "invalid_request_error", err.OpenAIType())
	assert.Equal(t, "unknown model m-x", err.Error())
}

func TestUnknownCodeDefaultsToInternalServerError(t *testing.T) {
	err := New(Code("NOT_IN_TAXONOMY"), "surprise")
	assert.Equal(t, http.StatusInternalServerError, err.Status())
	assert.Equal(t, "server_error", err.OpenAIType())
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("page navigation timed out")
	err := Wrap(CodeGenerationFailed, "generation failed", cause)

	assert.Same(t, cause, errors.Unwrap(err))
	assert.ErrorIs(t, err, cause)
}

func TestAsFindsTaxonomyErrorThroughWrapChain(t *testing.T) {
	taxErr := New(CodeServerBusy, "queue full")
	wrapped := fmt.Errorf("admit: %w", taxErr)

	found, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeServerBusy, found.Code)
}

func TestAsReturnsFalseForPlainError(t *testing.T) {
	_, ok := As(errors.New("not a taxonomy error"))
	assert.False(t, ok)
}

func TestInternalOrWrapPassesThroughTaxonomyErrors(t *testing.T) {
	original := New(CodeImageForbidden, "no images allowed")
	result := InternalOrWrap(original)
	assert.Same(t, original, result)
}

func TestInternalOrWrapClassifiesPlainErrors(t *testing.T) {
	result := InternalOrWrap(errors.New("boom"))
	assert.Equal(t, CodeInternalError, result.Code)
}

func TestInternalOrWrapNilIsNil(t *testing.T) {
	assert.Nil(t, InternalOrWrap(nil))
}

func TestToBodyShape(t *testing.T) {
	err := New(CodeTooManyImages, "image count 6 exceeds limit 5")
	body := err.ToBody()

	assert.Equal(t, "image count 6 exceeds limit 5", body.Error.Message)
	assert.Equal(t, "invalid_request_error", body.Error.Type)
	assert.Equal(t, "TOO_MANY_IMAGES", body.Error.Code)
}
