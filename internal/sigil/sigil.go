// Package sigil computes content signatures for the immutable records the
// commit engine produces. A signature is the hex SHA-256 of the canonical
// JSON of the payload: keys sorted lexicographically, no whitespace, numbers
// in their shortest form, timestamps as UTC RFC 3339. Two independent
// implementations of this canonicalization must agree bit-for-bit, so the
// rules here never change without a record version bump.
package sigil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Canonical serializes a payload into canonical JSON bytes.
// Supported value kinds: nil, bool, string, integers, float64, time.Time,
// []interface{}, map[string]interface{}, and anything JSON-marshalable
// (which is round-tripped through encoding/json first).
func Canonical(payload map[string]interface{}) ([]byte, error) {
	var b strings.Builder
	if err := writeValue(&b, payload); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

// Sign returns the hex SHA-256 over the canonical form of the payload.
func Sign(payload map[string]interface{}) (string, error) {
	data, err := Canonical(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the signature and compares it to the stored value.
func Verify(payload map[string]interface{}, stored string) (bool, error) {
	computed, err := Sign(payload)
	if err != nil {
		return false, err
	}
	return computed == stored, nil
}

// HashBytes is the hex SHA-256 of raw bytes, used for upload dedupe.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func writeValue(b *strings.Builder, v interface{}) error {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		data, err := json.Marshal(val)
		if err != nil {
			return err
		}
		b.Write(data)
	case int:
		b.WriteString(strconv.Itoa(val))
	case int32:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case float64:
		return writeFloat(b, val)
	case float32:
		return writeFloat(b, float64(val))
	case time.Time:
		data, err := json.Marshal(val.UTC().Format(time.RFC3339))
		if err != nil {
			return err
		}
		b.Write(data)
	case []string:
		b.WriteByte('[')
		for i, s := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeValue(b, s); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case []interface{}:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeValue(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kdata, err := json.Marshal(k)
			if err != nil {
				return err
			}
			b.Write(kdata)
			b.WriteByte(':')
			if err := writeValue(b, val[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		// Round-trip through encoding/json to reduce unknown types to the
		// supported set, then canonicalize the result.
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("unsupported signature value %T: %w", v, err)
		}
		var generic interface{}
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		return writeValue(b, generic)
	}
	return nil
}

func writeFloat(b *strings.Builder, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("non-finite number in signature payload")
	}
	// Shortest-form rendering; integers lose the trailing ".0".
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		b.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}
