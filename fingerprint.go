package xmap

import (
	"hash/fnv"
)

// Fingerprint hashes the ordered (name, declared type) pairs of the cursor's
// current result set. Equal column sequences give equal fingerprints; any
// rename, reorder, addition, removal or type change gives a different one
// with overwhelming probability. Only metadata is read.
func Fingerprint(c Cursor) (uint64, error) {
	cols, err := c.Columns()
	if err != nil {
		return 0, err
	}
	return FingerprintColumns(cols), nil
}

// FingerprintColumns is Fingerprint over an already fetched column list.
func FingerprintColumns(cols []Column) uint64 {
	h := fnv.New64a()
	var sep = [2]byte{0, 1}
	for _, c := range cols {
		_, _ = h.Write([]byte(c.Name))
		_, _ = h.Write(sep[:1])
		_, _ = h.Write([]byte(c.Type))
		_, _ = h.Write(sep[1:])
	}
	return h.Sum64()
}
