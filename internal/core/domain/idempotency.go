package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// IdempotencyStatus is the state of an idempotency record.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "PROCESSING"
	IdempotencyStatusCompleted  IdempotencyStatus = "COMPLETED"
	IdempotencyStatusFailed     IdempotencyStatus = "FAILED"
)

// IdempotencyRecord caches the outcome of an admitted operation. Only the
// fingerprint and the result are stored, never the raw request.
type IdempotencyRecord struct {
	ScopedKey    string            `json:"scoped_key"`
	Fingerprint  string            `json:"fingerprint"`
	Status       IdempotencyStatus `json:"status"`
	Result       []byte            `json:"result,omitempty"`
	ErrorCode    string            `json:"error_code,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	// GatewayError preserves the processor's structured failure so a
	// replay surfaces the original code and retryable flag.
	GatewayError json.RawMessage `json:"gateway_error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// IsTerminal reports whether the record carries a cached outcome.
func (r *IdempotencyRecord) IsTerminal() bool {
	return r.Status == IdempotencyStatusCompleted || r.Status == IdempotencyStatusFailed
}

// IsExpired reports whether the record has passed its TTL.
func (r *IdempotencyRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// BuildScopedKey constructs the composite identifier under which idempotent
// results are cached: {merchantId}:{operation}:{callerKey}.
func BuildScopedKey(merchantID, operation, callerKey string) string {
	return merchantID + ":" + operation + ":" + callerKey
}

// volatileFields are excluded from fingerprints at every nesting level:
// they differ between semantically identical requests.
var volatileFields = map[string]struct{}{
	"timestamp":  {},
	"created_at": {},
	"request_id": {},
	"trace_id":   {},
}

// Fingerprint computes a deterministic SHA-256 hex digest of the request
// body. Map keys are sorted, numbers pass through json.Number so their
// textual form is stable, and volatile fields are dropped.
func Fingerprint(body any) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request body: %w", err)
	}

	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return "", fmt.Errorf("decode request body: %w", err)
	}

	var b strings.Builder
	if err := writeCanonical(&b, value); err != nil {
		return "", err
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

func writeCanonical(b *strings.Builder, value any) error {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			if _, volatile := volatileFields[k]; volatile {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return err
			}
			b.Write(keyJSON)
			b.WriteByte(':')
			if err := writeCanonical(b, v[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
		return nil

	case []any:
		b.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil

	case json.Number:
		// Normalize 1, 1.0, 1e0 to one textual form.
		if f, err := v.Float64(); err == nil {
			formatted, err := json.Marshal(f)
			if err != nil {
				return err
			}
			b.Write(formatted)
			return nil
		}
		b.WriteString(v.String())
		return nil

	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		b.Write(raw)
		return nil
	}
}
