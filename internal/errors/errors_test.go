package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/victornm/livequiz/internal/errors"
)

func TestConvert(t *testing.T) {
	t.Run("coded error should be kept through wrapping", func(t *testing.T) {
		err := fmt.Errorf("gateway: %w", errors.NotFound("session %s not found", "123456"))

		e := errors.Convert(err)
		assert.Equal(t, errors.CodeNotFound, e.Code)
		assert.Equal(t, "session 123456 not found", e.Message)
		assert.Equal(t, http.StatusNotFound, e.HTTPStatusCode())
	})

	t.Run("plain error should become internal", func(t *testing.T) {
		cause := stderrors.New("boom")

		e := errors.Convert(cause)
		assert.Equal(t, errors.CodeInternal, e.Code)
		assert.ErrorIs(t, e, cause)
		assert.Equal(t, http.StatusInternalServerError, e.HTTPStatusCode())
	})
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", errors.FailedPrecondition("game already started"))

	assert.True(t, errors.HasCode(err, errors.CodeFailedPrecondition))
	assert.False(t, errors.HasCode(err, errors.CodePermissionDenied))
	assert.False(t, errors.HasCode(stderrors.New("plain"), errors.CodeInternal))
}

func TestError_GRPCStatus(t *testing.T) {
	e := errors.PermissionDenied("only the host can start the game")

	st, ok := status.FromError(e)
	assert.True(t, ok)
	assert.Equal(t, codes.PermissionDenied, st.Code())
	assert.Equal(t, http.StatusForbidden, e.HTTPStatusCode())
}
