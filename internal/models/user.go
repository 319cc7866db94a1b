package models

import "github.com/google/uuid"

type User struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Password string    `json:"password,omitempty"`

	TotalScore int  `json:"total_score"`
	IsAdmin    bool `json:"is_admin"`
}
