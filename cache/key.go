package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint derives a deterministic cache key from an operation identifier
// and its arguments. Arguments are serialized to canonical JSON (map keys
// come out sorted); values that cannot be serialized degrade to their string
// form rather than failing the call. The result is a 128-bit hex digest, so
// distinct calls collide only with the hash function's negligible
// probability.
func Fingerprint(op string, args ...any) string {
	payload := struct {
		Op   string `json:"op"`
		Args []any  `json:"args"`
	}{Op: op, Args: args}

	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(fmt.Sprintf("%s:%v", op, args))
	}

	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
