package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalParams renders params as canonical JSON: object keys sorted
// lexicographically at every level, compact separators, UTF-8. Two calls with
// semantically equal params produce identical bytes.
func CanonicalParams(params map[string]any) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode params: %w", err)
	}

	// Round-trip through the generic representation so every nested object
	// is a map and therefore marshalled with sorted keys.
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// ParamHash returns the first 8 hex characters of SHA-256 over the canonical
// JSON form of params.
func ParamHash(params map[string]any) (string, error) {
	canonical, err := CanonicalParams(params)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:8], nil
}

// DeriveKey builds the cache key "<resourceType>:<accountID>[:<paramHash>]".
// Empty params yield the two-segment form.
func DeriveKey(resourceType, accountID string, params map[string]any) (string, error) {
	if len(params) == 0 {
		return resourceType + ":" + accountID, nil
	}
	hash, err := ParamHash(params)
	if err != nil {
		return "", err
	}
	return resourceType + ":" + accountID + ":" + hash, nil
}
