// Package signature computes structural fingerprints identifying "where" a
// browser session currently is: the top document URL plus the ordered tree of
// reachable same-origin iframes. Two sessions with equal signatures are
// considered to be at the same place; the host-stripped variant compares
// places across the reference and new deployments, which run on different
// hosts.
package signature

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Frame describes one iframe found during the in-page walk, in document
// order. Cross-origin frames are flagged and never descended into.
type Frame struct {
	Index      int    `json:"index"`
	ID         string `json:"id"`
	Src        string `json:"src"`
	Path       string `json:"path"`
	SameOrigin bool   `json:"sameOrigin"`
}

// Info is the raw result of the in-page walk script.
type Info struct {
	TopURL   string  `json:"topUrl"`
	DocPrint string  `json:"docPrint"`
	Frames   []Frame `json:"frames"`
}

// Signature is an opaque place fingerprint. The zero value means "unknown
// place" and never equals a computed signature.
type Signature struct {
	key      string
	stripped string
}

// Compute assembles a Signature from walk output. The key concatenates a
// "top:" segment, a "doc:" segment, and one "if:" segment per frame in
// document order, so any structural change to the frame tree changes the key.
func Compute(info Info) Signature {
	var key, stripped strings.Builder

	key.WriteString("top:" + info.TopURL)
	stripped.WriteString("top:" + stripHost(info.TopURL))

	key.WriteString("|doc:" + info.DocPrint)
	stripped.WriteString("|doc:" + info.DocPrint)

	for _, fr := range info.Frames {
		seg := fmt.Sprintf("|if:%d#%s#%s#%s", fr.Index, fr.ID, fr.Src, fr.Path)
		key.WriteString(seg)
		stripped.WriteString(fmt.Sprintf("|if:%d#%s#%s#%s", fr.Index, fr.ID, stripHost(fr.Src), fr.Path))
	}

	return Signature{key: key.String(), stripped: stripped.String()}
}

// FromParts reconstructs a Signature from its serialized form. Used by the
// RPC layer; everything in-process goes through Compute.
func FromParts(key, stripped string) Signature {
	return Signature{key: key, stripped: stripped}
}

// Key returns the full fingerprint including hosts.
func (s Signature) Key() string { return s.key }

// Stripped returns the host-independent fingerprint.
func (s Signature) Stripped() string { return s.stripped }

// IsZero reports whether the signature has never been computed.
func (s Signature) IsZero() bool { return s.key == "" }

// Equal reports strict equality, including hosts.
func (s Signature) Equal(other Signature) bool {
	return !s.IsZero() && s.key == other.key
}

// SamePlace reports whether two signatures denote the same place once hosts
// are ignored, the relation used to pair reference and new captures.
func (s Signature) SamePlace(other Signature) bool {
	return !s.IsZero() && s.stripped == other.stripped
}

type wireSignature struct {
	Key      string `json:"key"`
	Stripped string `json:"stripped"`
}

// MarshalJSON serializes both variants for transport across the RPC boundary.
func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireSignature{Key: s.key, Stripped: s.stripped})
}

// UnmarshalJSON restores a signature produced by MarshalJSON.
func (s *Signature) UnmarshalJSON(data []byte) error {
	var w wireSignature
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	s.key = w.Key
	s.stripped = w.Stripped
	return nil
}

// stripHost removes scheme and authority from a URL, keeping path, query and
// fragment. Unparseable values are returned as-is so a malformed src still
// contributes stable bytes to the fingerprint.
func stripHost(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = ""
	u.Host = ""
	u.User = nil
	return u.String()
}
