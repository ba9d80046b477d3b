package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultBuilderRoundTrip(t *testing.T) {
	b := NewResultBuilder([]Column{{Type: ColumnTypeInteger, Name: "v"}})
	require.NoError(t, b.AddRow(Row{[]byte{1, 0, 0, 0}}))

	buf := b.Encode()
	assert.Equal(t, headerSize+int(byteOrder.Uint32(buf[12:16])), len(buf))

	rs, err := Decode(buf)
	require.NoError(t, err)
	require.Len(t, rs.Columns, 1)
	assert.Equal(t, "v", rs.Columns[0].Name)
	assert.Equal(t, ColumnTypeInteger, rs.Columns[0].Type)
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, []byte{1, 0, 0, 0}, rs.Rows[0][0])
}

func TestEmptyResultIsWellFormedNotAnError(t *testing.T) {
	buf := Empty()
	rs, err := Decode(buf)
	require.NoError(t, err)
	assert.Len(t, rs.Columns, 0)
	assert.Len(t, rs.Rows, 0)
}

func TestNullCellHasNoTrailingLengthOrData(t *testing.T) {
	b := NewResultBuilder([]Column{{Type: ColumnTypeVarchar, Name: "s"}})
	require.NoError(t, b.AddRow(Row{nil}))
	buf := b.Encode()

	rs, err := Decode(buf)
	require.NoError(t, err)
	assert.Nil(t, rs.Rows[0][0])
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.Error(t, err)
	var fe *FramingError
	assert.ErrorAs(t, err, &fe)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	b := NewResultBuilder(nil)
	buf := b.Encode()
	buf[0] = 0xFF
	_, err := Decode(buf)
	require.Error(t, err)
	var ve *VersionError
	assert.ErrorAs(t, err, &ve)
}

func TestDecodeRejectsPayloadSizeMismatch(t *testing.T) {
	buf := Empty()
	// Corrupt payloadSize to claim more bytes than are actually present.
	byteOrder.PutUint32(buf[12:16], 99)
	_, err := Decode(buf)
	require.Error(t, err)
	var fe *FramingError
	assert.ErrorAs(t, err, &fe)
}

func TestRoundTripRowCountAndLength(t *testing.T) {
	b := NewResultBuilder([]Column{{Type: ColumnTypeVarchar, Name: "name"}})
	for i := 0; i < 5; i++ {
		require.NoError(t, b.AddRow(Row{[]byte("x")}))
	}
	buf := b.Encode()
	rs, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, 5, len(rs.Rows))
	assert.Equal(t, headerSize+int(byteOrder.Uint32(buf[12:16])), len(buf))
}
