package util

import "errors"

var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrNoExtractableText = errors.New("no extractable text found in document")

	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrModelMismatch     = errors.New("query embedding model mismatch")

	ErrIntegrity  = errors.New("chunk references unknown document")
	ErrConstraint = errors.New("vector dimensionality rejected by storage")
)
