package graph

import "strings"

// IdentityMap maintains the many-to-one mapping from raw entity identifiers
// (and their casing/formatting variants) to canonical identifiers.
//
// Raw ids are produced by free-text generation per chunk, so the same entity
// frequently shows up as "tool--ssh", "Tool--SSH" and "TOOL--SSH" across
// chunks. Registering tolerant variants up front lets every later lookup be
// a plain map access instead of a fuzzy pass over all known ids.
type IdentityMap struct {
	ids map[string]string
}

// NewIdentityMap creates an empty IdentityMap.
func NewIdentityMap() *IdentityMap {
	return &IdentityMap{
		ids: make(map[string]string),
	}
}

// Register inserts the direct rawID mapping plus a fixed set of tolerant
// variants, all pointing at canonicalID. Existing entries are never
// overwritten: first registration wins, so a later ambiguous variant cannot
// hijack an already-resolved id.
func (m *IdentityMap) Register(rawID, canonicalID string) {
	m.put(rawID, canonicalID)
	for _, variant := range idVariants(rawID) {
		m.put(variant, canonicalID)
	}
}

// Resolve looks up the canonical id for rawID.
func (m *IdentityMap) Resolve(rawID string) (string, bool) {
	canonical, ok := m.ids[rawID]
	return canonical, ok
}

// Len returns the number of registered id variants.
func (m *IdentityMap) Len() int {
	return len(m.ids)
}

func (m *IdentityMap) put(id, canonicalID string) {
	if id == "" {
		return
	}
	if _, exists := m.ids[id]; !exists {
		m.ids[id] = canonicalID
	}
}

// idVariants returns the casing variants registered alongside every raw id.
// For ids of the form "prefix--suffix" the prefix and suffix are also varied
// independently, since upstream extraction is inconsistent about which half
// of the id it capitalizes.
func idVariants(id string) []string {
	variants := []string{
		strings.ToLower(id),
		strings.ToUpper(id),
		capitalize(id),
	}

	if prefix, suffix, ok := strings.Cut(id, "--"); ok {
		variants = append(variants,
			strings.ToLower(prefix)+"--"+strings.ToLower(suffix),
			strings.ToUpper(prefix)+"--"+strings.ToUpper(suffix),
			capitalize(prefix)+"--"+suffix,
			capitalize(prefix)+"--"+strings.ToLower(suffix),
			capitalize(prefix)+"--"+strings.ToUpper(suffix),
		)
	}

	return variants
}

// capitalize uppercases the first byte and lowercases the rest.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
