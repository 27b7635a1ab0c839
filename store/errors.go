package store

import "errors"

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: already exists")
	ErrUnsigned = errors.New("store: label is not signed")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
