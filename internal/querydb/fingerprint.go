package querydb

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Fingerprinter lets a value supply its own fingerprint.
type Fingerprinter interface {
	Fingerprint() uint64
}

// Fingerprint is the default value fingerprint: xxhash of raw bytes and
// strings, the value's own Fingerprint when it has one, and xxhash of the JSON
// encoding otherwise. encoding/json sorts map keys, so the result does not
// depend on map iteration order.
func Fingerprint(v any) (uint64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case Fingerprinter:
		return t.Fingerprint(), nil
	case []byte:
		return xxhash.Sum64(t), nil
	case string:
		return hashString(t), nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return 0, fmt.Errorf("encoding %T: %w", v, err)
		}
		return xxhash.Sum64(b), nil
	}
}

func hashString(s string) uint64 { return xxhash.Sum64String(s) }

func combine(a, b uint64) uint64 {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], a)
	binary.BigEndian.PutUint64(buf[8:], b)
	return xxhash.Sum64(buf[:])
}
