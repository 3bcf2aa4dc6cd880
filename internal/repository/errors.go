package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict indicates a create collided with an existing identifier.
var ErrConflict = errors.New("repository: already exists")
