package common

// ChunkRef is a provenance record linking an entity or relationship back to
// the text chunk it was extracted from.
type ChunkRef struct {
	ChunkID      string `json:"chunk_id"`
	ChunkType    string `json:"chunk_type"`
	ChunkContent string `json:"chunk_content"`
	ChunkLength  int    `json:"chunk_length"`
	SourceFile   string `json:"source_metadata"`
}

// Entity represents a node candidate produced by the upstream extraction
// step. Its ID is the raw upstream identifier and is only unique within a
// single chunk; alignment maps it onto a canonical identity.
type Entity struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Type        string     `json:"type"`
	Chunks      []ChunkRef `json:"chunks_info"`
}

// Relationship represents a directed edge candidate between two entities,
// referenced by their raw upstream identifiers.
//
// Confidence is expected to be within [0, 1]. Values outside that range are
// replaced with a default during resolution.
type Relationship struct {
	Type       string     `json:"type"`
	Source     string     `json:"source"`
	Target     string     `json:"target"`
	Confidence float64    `json:"confidence"`
	Evidence   string     `json:"evidence"`
	Chunks     []ChunkRef `json:"chunks_info"`
}

// ExtractionResult holds the entities and relationships extracted from a
// single chunk of source text.
type ExtractionResult struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
}

// CanonicalEntity is the merged form of one or more aligned entities.
//
// ID is derived from the entity type and the normalized winning name, so the
// same real-world entity always maps onto the same canonical identifier.
type CanonicalEntity struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	Type          string     `json:"type"`
	MergeCount    int        `json:"merge_count"`
	OriginalNames []string   `json:"original_names,omitempty"`
	Chunks        []ChunkRef `json:"chunks_info"`
}
