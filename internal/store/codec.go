package store

import (
	"encoding/json"

	"github.com/hitalin/notedeck/internal/models"
)

func marshalNote(n models.NormalizedNote) (string, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalNote(raw string) (models.NormalizedNote, error) {
	var n models.NormalizedNote
	err := json.Unmarshal([]byte(raw), &n)
	return n, err
}
