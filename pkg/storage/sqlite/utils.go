package sqlite

import (
	"encoding/json"
	"fmt"

	"github.com/oceanbase/agentmem-go/pkg/storage"
)

// encodeVectors serializes the embedding and reference list as JSON text.
func encodeVectors(record *storage.Record) (string, string, error) {
	embeddingJSON, err := json.Marshal(record.Embedding)
	if err != nil {
		return "", "", fmt.Errorf("encode embedding: %w", err)
	}

	ids := record.AssociatedIDs
	if ids == nil {
		ids = []int64{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return "", "", fmt.Errorf("encode associated ids: %w", err)
	}

	return string(embeddingJSON), string(idsJSON), nil
}

// decodeVectors is the inverse of encodeVectors.
func decodeVectors(record *storage.Record, embeddingStr, idsStr string) error {
	if err := json.Unmarshal([]byte(embeddingStr), &record.Embedding); err != nil {
		return fmt.Errorf("parse embedding: %w", err)
	}

	if idsStr != "" {
		if err := json.Unmarshal([]byte(idsStr), &record.AssociatedIDs); err != nil {
			return fmt.Errorf("parse associated ids: %w", err)
		}
	}

	return nil
}
