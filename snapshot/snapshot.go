// Package snapshot stores immutable schema documents addressed by the hash
// of their canonical encoding. Two structurally identical documents always
// map to the same ID, so Put is idempotent and snapshots can be shared
// freely between commits.
package snapshot

import (
	"encoding/json"
	"fmt"
	"sort"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"

	"github.com/trellis-data/trellis/schema"
)

// ID is the content identity of a snapshot: a CIDv1 (raw codec, SHA2-256)
// in base32 multibase form.
type ID string

// ComputeID hashes canonical snapshot bytes into their content identity.
func ComputeID(data []byte) (ID, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("multihash: %w", err)
	}
	c := gocid.NewCidV1(gocid.Raw, mh)
	encoded, err := multibase.Encode(multibase.Base32, c.Bytes())
	if err != nil {
		return "", fmt.Errorf("multibase: %w", err)
	}
	return ID(encoded), nil
}

// CanonicalJSON produces a deterministic JSON encoding of any value: object
// keys sorted, array order preserved. Content identity is computed over this
// form, so it must never change shape between releases.
func CanonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	return canonicalEncode(raw)
}

// Encode produces the canonical JSON encoding of a schema document. Property
// order inside an object type is versioned state, so it survives encoding
// byte-for-byte.
func Encode(doc *schema.Schema) ([]byte, error) {
	return CanonicalJSON(doc)
}

// Decode parses canonical snapshot bytes back into a schema document.
func Decode(data []byte) (*schema.Schema, error) {
	var doc schema.Schema
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if doc.ObjectTypes == nil {
		doc.ObjectTypes = make(map[string]*schema.ObjectType)
	}
	if doc.LinkTypes == nil {
		doc.LinkTypes = make(map[string]*schema.LinkType)
	}
	return &doc, nil
}

// Sum encodes a document and computes its ID in one step.
func Sum(doc *schema.Schema) (ID, []byte, error) {
	data, err := Encode(doc)
	if err != nil {
		return "", nil, err
	}
	id, err := ComputeID(data)
	if err != nil {
		return "", nil, err
	}
	return id, data, nil
}

func canonicalEncode(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			keyBytes, _ := json.Marshal(k)
			buf = append(buf, keyBytes...)
			buf = append(buf, ':')
			valBytes, err := canonicalEncode(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, valBytes...)
		}
		buf = append(buf, '}')
		return buf, nil

	case []any:
		buf := []byte{'['}
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			itemBytes, err := canonicalEncode(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, itemBytes...)
		}
		buf = append(buf, ']')
		return buf, nil

	default:
		return json.Marshal(v)
	}
}
