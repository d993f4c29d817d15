package oceanbase

import (
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/oceanbase/agentmem-go/pkg/storage"
)

// vectorToString converts a float64 slice to an OceanBase VECTOR format string.
// Example: [0.1, 0.2, 0.3] -> "[0.1,0.2,0.3]"
func vectorToString(vector []float64) string {
	if len(vector) == 0 {
		return "[]"
	}

	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}

	return "[" + strings.Join(parts, ",") + "]"
}

// stringToVector converts a string to a float64 slice.
// Example: "[0.1,0.2,0.3]" -> [0.1, 0.2, 0.3]
func stringToVector(s string) ([]float64, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return []float64{}, nil
	}

	parts := strings.Split(s, ",")
	result := make([]float64, len(parts))

	for i, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, err
		}
		result[i] = val
	}

	return result, nil
}

func idsToJSON(ids []int64) (string, error) {
	if ids == nil {
		ids = []int64{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// generateHash generates an MD5 hash for a description.
func generateHash(content string) string {
	hash := md5.Sum([]byte(content))
	return hex.EncodeToString(hash[:])
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*storage.Record, error) {
	var record storage.Record
	var embeddingStr string
	var idsStr sql.NullString

	err := row.Scan(
		&record.ID,
		&record.Kind,
		&record.Description,
		&record.Importance,
		&embeddingStr,
		&idsStr,
		&record.CreatedAt,
		&record.AccessedAt,
		&record.RetrievalValue,
	)
	if err != nil {
		return nil, err
	}

	if record.Embedding, err = stringToVector(embeddingStr); err != nil {
		return nil, err
	}
	if idsStr.Valid && idsStr.String != "" {
		if err := json.Unmarshal([]byte(idsStr.String), &record.AssociatedIDs); err != nil {
			return nil, err
		}
	}

	return &record, nil
}
