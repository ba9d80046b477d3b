package odbcapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReturnIsSuccess(t *testing.T) {
	assert.True(t, ReturnSuccess.IsSuccess())
	assert.True(t, ReturnSuccessWithInfo.IsSuccess())
	assert.False(t, ReturnError.IsSuccess())
	assert.False(t, ReturnInvalidHandle.IsSuccess())
	assert.False(t, ReturnNoData.IsSuccess())
}
