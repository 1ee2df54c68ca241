package decision

import (
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/verdictai/verdict-oss/pkg/domain"
)

// Key is a 64-bit hash of the decision-relevant projection of a request. Two
// requests that differ only in decision-irrelevant fields (timestamps, trace
// IDs, unrelated metadata) map to the same key. xxhash is fast and
// non-cryptographic; a collision is a cache-coherence risk we accept for
// throughput, not a security boundary.
type Key uint64

func (k Key) String() string {
	return strconv.FormatUint(uint64(k), 16)
}

// ProjectionVersion identifies the projection schema baked into Derive.
// Bumping it invalidates every previously derived key, which is the intended
// effect of changing the projected field set.
const ProjectionVersion = "v1"

// projectedContextKeys is the fixed, ordered set of context attributes that
// can influence a verdict. The set is part of the projection schema and never
// user-supplied, so callers cannot widen or narrow cache keys per request.
var projectedContextKeys = []string{
	"audit",
	"environment",
	"sandbox",
	"trust",
	"trust_tier",
}

// KeyDeriver derives cache keys from policy requests. It is stateless; the
// zero value is ready to use.
type KeyDeriver struct{}

// Derive produces the cache key for a request. Pure and deterministic across
// process restarts: the hash covers only canonicalized field values, never
// pointers or map iteration order.
func (KeyDeriver) Derive(req domain.PolicyRequest) Key {
	digest := xxhash.New()

	writeKeyField(digest, ProjectionVersion)
	writeKeyField(digest, req.Kind)
	writeKeyField(digest, req.ComplianceTag)
	writeKeyField(digest, req.Action)

	for _, name := range projectedContextKeys {
		value, ok := req.Context[name]
		if !ok {
			continue
		}
		writeKeyField(digest, name)
		writeKeyField(digest, canonicalValue(value))
	}

	return Key(digest.Sum64())
}

// writeKeyField appends a field followed by a null delimiter, so adjacent
// fields can never collapse into the same byte sequence.
func writeKeyField(digest *xxhash.Digest, value string) {
	_, _ = digest.WriteString(value)
	_, _ = digest.Write([]byte{0})
}

// canonicalValue renders a projected context value into a stable string form.
// Unsupported types degrade to an empty marker rather than fmt.Sprintf, which
// could leak address-dependent representations into the hash.
func canonicalValue(value any) string {
	switch v := value.(type) {
	case string:
		return "s:" + v
	case bool:
		return "b:" + strconv.FormatBool(v)
	case float64:
		return "f:" + strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		return "f:" + strconv.FormatFloat(float64(v), 'g', -1, 64)
	case int:
		return "i:" + strconv.FormatInt(int64(v), 10)
	case int64:
		return "i:" + strconv.FormatInt(v, 10)
	case uint64:
		return "u:" + strconv.FormatUint(v, 10)
	case nil:
		return "nil"
	default:
		return "?"
	}
}
