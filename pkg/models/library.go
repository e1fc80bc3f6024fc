package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Library struct {
	bun.BaseModel `bun:"table:libraries,alias:l"`

	ID        int        `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `bun:",soft_delete" json:"-"`
	Name      string     `bun:",nullzero" json:"name"`
	RootPath  string     `bun:",nullzero" json:"root_path"`
}
