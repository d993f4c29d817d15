package postgres

import (
	"github.com/lib/pq"
	"github.com/oceanbase/agentmem-go/pkg/storage"
	"github.com/pgvector/pgvector-go"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans a memory record; the embedding arrives as a pgvector value.
func scanRecord(row rowScanner) (*storage.Record, error) {
	var record storage.Record
	var embedding pgvector.Vector
	var ids pq.Int64Array

	err := row.Scan(
		&record.ID,
		&record.Kind,
		&record.Description,
		&record.Importance,
		&embedding,
		&ids,
		&record.CreatedAt,
		&record.AccessedAt,
		&record.RetrievalValue,
	)
	if err != nil {
		return nil, err
	}

	record.Embedding = toFloat64(embedding.Slice())
	record.AssociatedIDs = []int64(ids)

	return &record, nil
}

// pgvector stores single precision components.
func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
