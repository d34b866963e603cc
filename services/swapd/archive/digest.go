package archive

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"

	"swapcore/core/types"
)

// Digest chains entry onto prev. Attributes are hashed in key order with
// length prefixes so no two attribute sets share an encoding.
func Digest(prev [32]byte, entry types.LogEntry) [32]byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, prev[:]...)
	buf = binary.BigEndian.AppendUint64(buf, entry.Sequence)
	buf = binary.BigEndian.AppendUint64(buf, uint64(entry.Time))
	if entry.Event != nil {
		buf = appendField(buf, entry.Event.Type)
		for _, key := range entry.Event.AttributeKeys() {
			buf = appendField(buf, key)
			buf = appendField(buf, entry.Event.Attributes[key])
		}
	}
	return blake3.Sum256(buf)
}

func appendField(buf []byte, value string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(value)))
	return append(buf, value...)
}

func decodeDigest(value string) ([32]byte, error) {
	var out [32]byte
	if value == "" {
		return out, nil
	}
	raw, err := hex.DecodeString(value)
	if err != nil || len(raw) != len(out) {
		return out, fmt.Errorf("malformed digest %q", value)
	}
	copy(out[:], raw)
	return out, nil
}
