package perp

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// encodeAction produces the canonical msgpack bytes the venue signs
// over. Struct field order fixes the encoding; maps are sorted so the
// same action always hashes identically.
func encodeAction(action any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)
	if err := enc.Encode(action); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
