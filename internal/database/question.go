package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/quizgrid/quizgrid/internal/models"
)

func (s *Store) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `SELECT DISTINCT category FROM questions ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// RandomQuestions implements the lobby's QuestionSource contract. The
// caller treats an empty result as a hard failure.
func (s *Store) RandomQuestions(ctx context.Context, category string, n int) ([]models.Question, error) {
	q := `SELECT id, category, text, options, answer
	      FROM questions WHERE category=$1 ORDER BY random() LIMIT $2`
	rows, err := s.Pool.Query(ctx, q, category, n)
	if err != nil {
		return nil, fmt.Errorf("random questions: %w", err)
	}
	defer rows.Close()

	var questions []models.Question
	for rows.Next() {
		var qu models.Question
		var options []byte
		if err := rows.Scan(&qu.ID, &qu.Category, &qu.Text, &options, &qu.Answer); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(options, &qu.Options); err != nil {
			return nil, fmt.Errorf("decode options for question %s: %w", qu.ID, err)
		}
		questions = append(questions, qu)
	}
	return questions, rows.Err()
}
