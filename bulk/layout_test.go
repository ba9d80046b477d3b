package bulk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsvxavier/odbcengine/protocol"
)

func widgetsSchema() []ColumnSchema {
	return []ColumnSchema{
		{Name: "id", Type: protocol.ParamTagInt32, MaxLen: 4},
		{Name: "label", Type: protocol.ParamTagString, Nullable: true, MaxLen: 8},
	}
}

func TestBuildEncodeDecodeRoundTrip(t *testing.T) {
	b, err := NewBuilder("widgets", widgetsSchema())
	require.NoError(t, err)
	require.NoError(t, b.AddRow([]Cell{{Value: []byte{1, 0, 0, 0}}, {Value: []byte("gizmo")}}))
	require.NoError(t, b.AddRow([]Cell{{Value: []byte{2, 0, 0, 0}}, {Null: true}}))

	buf := b.Build()
	encoded := buf.Encode()

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, "widgets", decoded.Table)
	assert.Equal(t, 2, decoded.RowCount)
	require.Len(t, decoded.Columns, 2)
	assert.Equal(t, "id", decoded.Columns[0].Name)
	assert.False(t, decoded.Columns[0].Nullable)
	assert.True(t, decoded.Columns[1].Nullable)

	assert.False(t, decoded.Nulls[1][0])
	assert.True(t, decoded.Nulls[1][1])
	assert.Equal(t, []byte("gizmo\x00\x00\x00"), decoded.Data[1][0])
	assert.Equal(t, make([]byte, 8), decoded.Data[1][1])
}

func TestAddRowRejectsNullInNonNullableColumn(t *testing.T) {
	b, err := NewBuilder("widgets", widgetsSchema())
	require.NoError(t, err)
	err = b.AddRow([]Cell{{Null: true}, {Value: []byte("x")}})
	require.Error(t, err)
}

func TestAddRowRejectsWrongCellCount(t *testing.T) {
	b, err := NewBuilder("widgets", widgetsSchema())
	require.NoError(t, err)
	err = b.AddRow([]Cell{{Value: []byte{1, 0, 0, 0}}})
	require.Error(t, err)
}

func TestNewBuilderRejectsEmptySchema(t *testing.T) {
	_, err := NewBuilder("widgets", nil)
	require.Error(t, err)
}

func TestDecodeRejectsTruncatedBuffer(t *testing.T) {
	b, err := NewBuilder("widgets", widgetsSchema())
	require.NoError(t, err)
	require.NoError(t, b.AddRow([]Cell{{Value: []byte{1, 0, 0, 0}}, {Value: []byte("gizmo")}}))
	encoded := b.Build().Encode()

	_, err = Decode(encoded[:len(encoded)-2])
	require.Error(t, err)
}

func TestValueLongerThanMaxLenIsTruncated(t *testing.T) {
	b, err := NewBuilder("widgets", widgetsSchema())
	require.NoError(t, err)
	require.NoError(t, b.AddRow([]Cell{{Value: []byte{1, 0, 0, 0}}, {Value: []byte("way-too-long-label")}}))
	buf := b.Build()
	assert.Len(t, buf.Data[1][0], 8)
	assert.Equal(t, []byte("way-too-"), buf.Data[1][0])
}
