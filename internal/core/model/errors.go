package model

import "errors"

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrNotFound           = errors.New("not found")
	ErrGenerationFailed   = errors.New("generation failed")
	ErrCatalogUnavailable = errors.New("catalog unavailable")
)
