package entity

import "errors"

var (
	// ErrCollaboratorUnavailable wraps recognizer and embedder failures
	ErrCollaboratorUnavailable = errors.New("entity collaborator unavailable")
	ErrDuplicateKey            = errors.New("entity key already exists")
	ErrInvalidEntity           = errors.New("invalid entity")
	ErrEmptyMention            = errors.New("mention is empty")
)
