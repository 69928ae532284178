package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// MemoryID is the relational primary key of a memory record
type MemoryID int64

// VectorID correlates a memory record with its entry in the vector index
type VectorID string

// NewVectorID generates a new globally unique VectorID
func NewVectorID() VectorID {
	return VectorID(uuid.New().String())
}

func (x VectorID) String() string { return string(x) }

// SourceKind is the kind of entity a memory was derived from
type SourceKind string

const (
	SourceKindCRS     SourceKind = "crs"
	SourceKindMessage SourceKind = "message"
	SourceKindComment SourceKind = "comment"
	SourceKindSummary SourceKind = "summary"
)

// SourceKinds lists every valid SourceKind in a stable order
var SourceKinds = []SourceKind{
	SourceKindCRS,
	SourceKindMessage,
	SourceKindComment,
	SourceKindSummary,
}

func (x SourceKind) String() string { return string(x) }

// Validate returns ErrValidation if the kind is not one of SourceKinds
func (x SourceKind) Validate() error {
	for _, k := range SourceKinds {
		if x == k {
			return nil
		}
	}
	return goerr.Wrap(ErrValidation, "unknown source kind", goerr.V("source_kind", string(x)))
}

// MemoryRecord is one durable unit of project context
type MemoryRecord struct {
	ID         MemoryID   `json:"memory_id"`
	ProjectID  int64      `json:"project_id"`
	SourceKind SourceKind `json:"source_kind"`
	SourceID   int64      `json:"source_id"`
	VectorID   VectorID   `json:"vector_id"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SearchResult is a memory matched by a similarity search
type SearchResult struct {
	MemoryRecord
	Text       string         `json:"text"`
	Similarity float64        `json:"similarity"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// MemorySummary aggregates the memories of one project
type MemorySummary struct {
	ProjectID     int64              `json:"project_id"`
	TotalMemories int                `json:"total_memories"`
	BySourceKind  map[SourceKind]int `json:"by_source_type"`
	OldestMemory  *time.Time         `json:"oldest_memory"`
	NewestMemory  *time.Time         `json:"newest_memory"`
}

// Metadata keys written by the memory coordinator into every vector entry
const (
	MetaProjectID  = "project_id"
	MetaSourceKind = "source_kind"
	MetaSourceID   = "source_id"
	MetaMemoryID   = "memory_id"
	MetaCreatedAt  = "created_at"
)
