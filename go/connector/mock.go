package connector

import (
	"encoding/binary"
	"fmt"

	"github.com/minio/highwayhash"

	"github.com/prismward/prism/go/fingerprint"
)

// Mock rows are generated deterministically from a seed so that synthetic
// landings and registry initialization are reproducible run-over-run.
var mockKey = []byte("prism.connector.mockrow.key.v01!")

// MockRow produces one deterministic row of the entry's canonical columns.
// Values are typed per the normalized column type: integers, floats,
// booleans, JSON objects, ISO timestamps, and strings.
func MockRow(e *Entry, seed uint64) []interface{} {
	var out = make([]interface{}, len(e.Columns))
	for i, col := range e.Columns {
		out[i] = mockValue(col, seed, uint64(i))
	}
	return out
}

func mockValue(col fingerprint.NamedType, seed, position uint64) interface{} {
	var buf = make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:], seed)
	binary.LittleEndian.PutUint64(buf[8:], position)
	var h = highwayhash.Sum64(append(buf, []byte(col.Name)...), mockKey)

	switch fingerprint.NormalizeType(col.Type) {
	case "integer":
		return int64(h % 1_000_000)
	case "number":
		return float64(h%1_000_000) / 100.0
	case "boolean":
		return h%2 == 0
	case "json":
		return fmt.Sprintf(`{"mock": %d}`, h%1000)
	case "timestamp":
		// Deterministic timestamps within 2024, second resolution.
		return fmt.Sprintf("2024-01-01T%02d:%02d:%02dZ", h%24, (h/24)%60, (h/1440)%60)
	case "date":
		return fmt.Sprintf("2024-%02d-%02d", 1+h%12, 1+(h/12)%28)
	default:
		return fmt.Sprintf("%s_%x", col.Name, h%0xffff)
	}
}
