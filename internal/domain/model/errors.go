package model

import "github.com/pkg/errors"

// Виды ошибок конвейера. Конкретные ошибки оборачивают один из них,
// проверка выполняется через errors.Is.
var (
	ErrIO                  = errors.New("io error")
	ErrGeometryType        = errors.New("geometry type error")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrOutOfBounds         = errors.New("out of bounds")
	ErrMissingPrerequisite = errors.New("missing prerequisite")
)
