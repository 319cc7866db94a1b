package models

import "github.com/google/uuid"

// Question is one entry from the question bank. Options maps an option key
// (e.g. "A") to its display text; Answer holds the correct option key.
type Question struct {
	ID       uuid.UUID         `json:"id"`
	Category string            `json:"category"`
	Text     string            `json:"text"`
	Options  map[string]string `json:"options"`
	Answer   string            `json:"answer"`
}
