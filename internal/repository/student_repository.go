package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// StudentRepository handles student data access.
type StudentRepository struct {
	pool *pgxpool.Pool
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(pool *pgxpool.Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

// GetByNISN retrieves a student by their unique NISN.
func (r *StudentRepository) GetByNISN(ctx context.Context, nisn string) (*model.Student, error) {
	s := &model.Student{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, nisn, name, created_at FROM students WHERE nisn = $1`, nisn,
	).Scan(&s.ID, &s.NISN, &s.Name, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Upsert inserts a student or renames the existing one with the same NISN.
func (r *StudentRepository) Upsert(ctx context.Context, nisn, name string) (*model.Student, error) {
	s := &model.Student{}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO students (nisn, name) VALUES ($1, $2)
		 ON CONFLICT (nisn) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, nisn, name, created_at`,
		nisn, name,
	).Scan(&s.ID, &s.NISN, &s.Name, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}
