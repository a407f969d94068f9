package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrInvalidEntry — запись response stream нельзя сохранить.
	ErrInvalidEntry = errors.New("invalid response entry")
)
