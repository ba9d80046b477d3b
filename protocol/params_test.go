package protocol

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsRoundTrip(t *testing.T) {
	dec, err := decimal.NewFromString("12.50")
	require.NoError(t, err)

	in := []ParamValue{
		Int32Param(1),
		NullParam(),
		StringParam("hello"),
		Int64Param(-99),
		DecimalParam(dec),
		BinaryParam([]byte{0xDE, 0xAD}),
	}

	out, err := DecodeParams(EncodeParams(in))
	require.NoError(t, err)
	require.Len(t, out, len(in))

	assert.Equal(t, int32(1), out[0].I32)
	assert.Equal(t, ParamTagNull, out[1].Tag)
	assert.Equal(t, "hello", out[2].Str)
	assert.Equal(t, int64(-99), out[3].I64)
	assert.True(t, dec.Equal(out[4].Dec))
	assert.Equal(t, []byte{0xDE, 0xAD}, out[5].Bin)
}

func TestDecodeParamsRejectsUnknownTag(t *testing.T) {
	buf := []byte{99, 0, 0, 0, 0}
	_, err := DecodeParams(buf)
	require.Error(t, err)
}
