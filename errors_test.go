package synthtext

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	_, err := NewTopK(2000)
	assert.EqualError(t, err, "synthtext: invalid top_k 2000: must be in the range 0..=1000")
	assert.ErrorIs(t, err, ErrInvalidParameter)
	assert.False(t, errors.Is(err, ErrAPI))
	_, ok := AsExecutionError(err)
	assert.False(t, ok)
}

func TestExecutionError(t *testing.T) {
	api := apiError(404, []byte(`{"status":404,"error":"unknown engine"}`))
	assert.EqualError(t, api, "synthtext: api error during status (status 404): unknown engine")
	assert.ErrorIs(t, api, ErrAPI)
	assert.NotErrorIs(t, api, ErrTransport)
	assert.False(t, api.Retryable())

	tr := transportError(StageConnect, errConnReset)
	assert.EqualError(t, tr, "synthtext: transport error during connect: connection reset by peer")
	assert.True(t, tr.Retryable())

	wrapped := fmt.Errorf("completing: %w", tr)
	ee, ok := AsExecutionError(wrapped)
	assert.True(t, ok)
	assert.Same(t, tr, ee)
	assert.True(t, IsRetryable(wrapped))
	assert.ErrorIs(t, wrapped, errConnReset)
}

func TestAPIErrorTruncatesBody(t *testing.T) {
	body := make([]byte, maxErrorBody*2)
	for i := range body {
		body[i] = 'x'
	}
	ee := apiError(500, body)
	assert.Len(t, ee.Message, maxErrorBody)
}
