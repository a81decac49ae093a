package storage

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/niiniyare/abacgate/pkg/abac"
)

// cursor is the private structure opaque page references encode. Callers only ever see the
// base64-encoded form; the fields below belong exclusively to storage implementations.
type cursor struct {
	// BucketKey identifies which denormalized index slice the offset applies to, so a page
	// reference stays valid even if the caller resumes a scan against a differently-filtered
	// call (it simply fails fast with a PageReferenceError instead of silently misreading).
	BucketKey string `json:"b"`
	Offset    int    `json:"o"`

	// Size is only set on slab references issued by GetGrantPageRefsPage: the number of grants
	// FetchPage resolves starting at Offset.
	Size int `json:"s,omitempty"`
}

func encodeCursor(c cursor) abac.PageRef {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(ref abac.PageRef) (cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(string(ref))
	if err != nil {
		return cursor{}, fmt.Errorf("malformed page reference: %w", err)
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return cursor{}, fmt.Errorf("malformed page reference: %w", err)
	}
	return c, nil
}

func bucketKey(filter abac.GrantFilter) string {
	effect := "*"
	if filter.Effect != nil {
		effect = string(*filter.Effect)
	}
	action := "*"
	if filter.Action != nil {
		action = *filter.Action
	}
	return effect + "|" + action
}
