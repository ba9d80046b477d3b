package protocol

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ParamTag distinguishes the wire representation of one parameter value,
// per spec §4.1.
type ParamTag uint8

const (
	ParamTagNull    ParamTag = 0
	ParamTagString  ParamTag = 1
	ParamTagInt32   ParamTag = 2
	ParamTagInt64   ParamTag = 3
	ParamTagDecimal ParamTag = 4
	ParamTagBinary  ParamTag = 5
)

// ParamValue is one decoded parameter.
type ParamValue struct {
	Tag     ParamTag
	Str     string
	I32     int32
	I64     int64
	Dec     decimal.Decimal
	Bin     []byte
}

func NullParam() ParamValue               { return ParamValue{Tag: ParamTagNull} }
func StringParam(s string) ParamValue     { return ParamValue{Tag: ParamTagString, Str: s} }
func Int32Param(v int32) ParamValue       { return ParamValue{Tag: ParamTagInt32, I32: v} }
func Int64Param(v int64) ParamValue       { return ParamValue{Tag: ParamTagInt64, I64: v} }
func DecimalParam(d decimal.Decimal) ParamValue { return ParamValue{Tag: ParamTagDecimal, Dec: d} }
func BinaryParam(b []byte) ParamValue     { return ParamValue{Tag: ParamTagBinary, Bin: b} }

// EncodeParams concatenates the wire form of each parameter: tag(u8)
// len(u32) payload[len].
func EncodeParams(params []ParamValue) []byte {
	out := make([]byte, 0, len(params)*8)
	for _, p := range params {
		var payload []byte
		switch p.Tag {
		case ParamTagNull:
			payload = nil
		case ParamTagString:
			payload = []byte(p.Str)
		case ParamTagInt32:
			payload = make([]byte, 4)
			byteOrder.PutUint32(payload, uint32(p.I32))
		case ParamTagInt64:
			payload = make([]byte, 8)
			byteOrder.PutUint64(payload, uint64(p.I64))
		case ParamTagDecimal:
			payload = []byte(p.Dec.String())
		case ParamTagBinary:
			payload = p.Bin
		}
		out = append(out, byte(p.Tag))
		lenBuf := make([]byte, 4)
		byteOrder.PutUint32(lenBuf, uint32(len(payload)))
		out = append(out, lenBuf...)
		out = append(out, payload...)
	}
	return out
}

// DecodeParams parses a concatenated parameter-value buffer. Unknown tags
// are rejected, per spec §4.1.
func DecodeParams(buf []byte) ([]ParamValue, error) {
	var out []ParamValue
	cursor := 0
	for cursor < len(buf) {
		if cursor+5 > len(buf) {
			return nil, &FramingError{msg: "truncated parameter header"}
		}
		tag := ParamTag(buf[cursor])
		length := byteOrder.Uint32(buf[cursor+1 : cursor+5])
		cursor += 5
		if cursor+int(length) > len(buf) {
			return nil, &FramingError{msg: "truncated parameter payload"}
		}
		payload := buf[cursor : cursor+int(length)]
		cursor += int(length)

		switch tag {
		case ParamTagNull:
			out = append(out, ParamValue{Tag: tag})
		case ParamTagString:
			out = append(out, ParamValue{Tag: tag, Str: string(payload)})
		case ParamTagInt32:
			if length != 4 {
				return nil, &FramingError{msg: "int32 parameter payload must be 4 bytes"}
			}
			out = append(out, ParamValue{Tag: tag, I32: int32(byteOrder.Uint32(payload))})
		case ParamTagInt64:
			if length != 8 {
				return nil, &FramingError{msg: "int64 parameter payload must be 8 bytes"}
			}
			out = append(out, ParamValue{Tag: tag, I64: int64(byteOrder.Uint64(payload))})
		case ParamTagDecimal:
			d, err := decimal.NewFromString(string(payload))
			if err != nil {
				return nil, fmt.Errorf("protocol: invalid decimal parameter: %w", err)
			}
			out = append(out, ParamValue{Tag: tag, Dec: d})
		case ParamTagBinary:
			cp := make([]byte, len(payload))
			copy(cp, payload)
			out = append(out, ParamValue{Tag: tag, Bin: cp})
		default:
			return nil, &FramingError{msg: fmt.Sprintf("unknown parameter tag %d", tag)}
		}
	}
	return out, nil
}
