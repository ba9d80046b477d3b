package protocol

// StructuredError is the wire form of a driver diagnostic, per spec §4.1:
// sqlState(5 bytes ASCII) nativeCode(i32 LE) messageLen(u32 LE) message.
// Absence of diagnostic info is five zero bytes and native code 0.
type StructuredError struct {
	SQLState   string
	NativeCode int32
	Message    string
}

// EncodeStructuredError encodes e into its wire form.
func EncodeStructuredError(e StructuredError) []byte {
	sqlState := [5]byte{}
	copy(sqlState[:], e.SQLState)

	out := make([]byte, 5+4+4+len(e.Message))
	copy(out[0:5], sqlState[:])
	byteOrder.PutUint32(out[5:9], uint32(e.NativeCode))
	byteOrder.PutUint32(out[9:13], uint32(len(e.Message)))
	copy(out[13:], e.Message)
	return out
}

// DecodeStructuredError parses a structured-error buffer.
func DecodeStructuredError(buf []byte) (*StructuredError, error) {
	if len(buf) < 13 {
		return nil, &FramingError{msg: "structured error buffer shorter than 13-byte header"}
	}
	sqlState := string(buf[0:5])
	// Trim trailing NUL padding from the absent-diagnostic encoding.
	trimmed := sqlState
	for len(trimmed) > 0 && trimmed[len(trimmed)-1] == 0 {
		trimmed = trimmed[:len(trimmed)-1]
	}
	nativeCode := int32(byteOrder.Uint32(buf[5:9]))
	msgLen := byteOrder.Uint32(buf[9:13])
	if 13+int(msgLen) != len(buf) {
		return nil, &FramingError{msg: "structured error message length mismatch"}
	}
	return &StructuredError{
		SQLState:   trimmed,
		NativeCode: nativeCode,
		Message:    string(buf[13:]),
	}, nil
}
