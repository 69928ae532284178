package model

import (
	"fmt"

	"github.com/m-mizutani/goerr/v2"
)

// VectorItem is an entry stored in the vector index
type VectorItem struct {
	ID       VectorID       `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// VectorMatch is a candidate returned by a vector query. Distance is in [0,1], 0 is identical.
type VectorMatch struct {
	VectorItem
	Distance float64 `json:"distance"`
}

// Similarity converts the distance into a similarity score
func (x *VectorMatch) Similarity() float64 {
	return 1 - x.Distance
}

// ValidateMetadata checks that every value is a flat scalar the vector stores can filter on
func ValidateMetadata(md map[string]any) error {
	for k, v := range md {
		switch v.(type) {
		case string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
		default:
			return goerr.Wrap(ErrValidation, "metadata value must be a scalar",
				goerr.V("key", k), goerr.V("type", fmt.Sprintf("%T", v)))
		}
	}
	return nil
}
