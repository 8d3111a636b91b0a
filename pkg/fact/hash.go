package fact

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Hasher computes the textual hash of a canonicalized fact. The core never
// hashes directly: it asks a Hasher for the digest of the byte sequence it
// produces from canonicalization (§4.1, §6 "core interacts with crypto only
// through a hash function on canonicalized facts").
type Hasher interface {
	Sum(canonical []byte) string
}

// Blake2bHasher is the default Hasher: a 32-byte BLAKE2b digest, base64-URL
// encoded without padding, yielding the 43-character hash §6 specifies.
type Blake2bHasher struct{}

// Sum implements Hasher.
func (Blake2bHasher) Sum(canonical []byte) string {
	digest := blake2b.Sum256(canonical)
	return base64.RawURLEncoding.EncodeToString(digest[:])
}

// DefaultHasher is the Hasher used when callers don't supply their own; it is
// exported so storage back-ends and test fixtures can compute references the
// same way Hash does.
var DefaultHasher Hasher = Blake2bHasher{}

// Canonicalize serializes f into the byte sequence whose hash is f's identity.
// The encoding is deliberately simple and explicit at every step so that a
// from-scratch implementation in another language can reproduce it byte for
// byte (§9 "hash stability across languages").
func Canonicalize(f Fact) ([]byte, error) {
	var b strings.Builder

	b.WriteString("type:")
	b.WriteString(f.Type)
	b.WriteByte('\n')

	roleNames := make([]string, 0, len(f.Predecessors))
	for name := range f.Predecessors {
		roleNames = append(roleNames, name)
	}
	sort.Strings(roleNames)

	for _, name := range roleNames {
		edge := f.Predecessors[name]
		refs := append([]Reference(nil), edge.Refs...)
		if !edge.Ordered {
			sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
		}
		b.WriteString("pred:")
		b.WriteString(name)
		for _, r := range refs {
			b.WriteString("\n  ")
			b.WriteString(r.Type)
			b.WriteByte(':')
			b.WriteString(r.Hash)
		}
		b.WriteByte('\n')
	}

	fieldNames := make([]string, 0, len(f.Fields))
	for name := range f.Fields {
		fieldNames = append(fieldNames, name)
	}
	sort.Strings(fieldNames)

	for _, name := range fieldNames {
		serialized, err := serializeScalar(f.Fields[name])
		if err != nil {
			return nil, &InvalidFactError{Type: f.Type, Reason: fmt.Sprintf("field %q: %v", name, err)}
		}
		b.WriteString("field:")
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(serialized)
		b.WriteByte('\n')
	}

	return []byte(b.String()), nil
}

// serializeScalar renders a field value in its canonical textual form, with
// a kind prefix: "t:" then ISO-8601 UTC with millisecond precision for
// timestamps, "n:" then the shortest exact decimal form for numbers, "s:"
// then the string verbatim (assumed UTF-8), "b:" then true/false for
// booleans (§4.1 rule 3).
func serializeScalar(v interface{}) (string, error) {
	if !validScalar(v) {
		return "", fmt.Errorf("non-serializable value of type %T", v)
	}
	switch x := v.(type) {
	case string:
		return "s:" + x, nil
	case bool:
		if x {
			return "b:true", nil
		}
		return "b:false", nil
	case time.Time:
		return "t:" + x.UTC().Format("2006-01-02T15:04:05.000Z"), nil
	case int:
		return "n:" + strconv.FormatInt(int64(x), 10), nil
	case int8:
		return "n:" + strconv.FormatInt(int64(x), 10), nil
	case int16:
		return "n:" + strconv.FormatInt(int64(x), 10), nil
	case int32:
		return "n:" + strconv.FormatInt(int64(x), 10), nil
	case int64:
		return "n:" + strconv.FormatInt(x, 10), nil
	case uint:
		return "n:" + strconv.FormatUint(uint64(x), 10), nil
	case uint8:
		return "n:" + strconv.FormatUint(uint64(x), 10), nil
	case uint16:
		return "n:" + strconv.FormatUint(uint64(x), 10), nil
	case uint32:
		return "n:" + strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		return "n:" + strconv.FormatUint(x, 10), nil
	case float32:
		return "n:" + strconv.FormatFloat(float64(x), 'g', -1, 32), nil
	case float64:
		return "n:" + strconv.FormatFloat(x, 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("unreachable scalar type %T", v)
	}
}

// Hash computes f's Reference using h. Hash is a pure function of f's
// canonicalization: structurally equal facts hash identically regardless of
// construction order or platform (§8 "hash determinism").
func Hash(f Fact, h Hasher) (Reference, error) {
	canonical, err := Canonicalize(f)
	if err != nil {
		return Reference{}, err
	}
	return Reference{Type: f.Type, Hash: h.Sum(canonical)}, nil
}
