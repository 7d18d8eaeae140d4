package model

import "time"

// Student is an exam candidate. Students are identified by NISN.
type Student struct {
	ID        int       `json:"id"`
	NISN      string    `json:"nisn"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
