package services

import "context"

// Guess is a classifier's best guess for a product photo. No accuracy is
// promised.
type Guess struct {
	Name     string
	Brand    string
	Category string
}

// Classifier recognizes a product from an image. Implementations live
// outside this module.
type Classifier interface {
	Classify(ctx context.Context, image []byte) (Guess, error)
}
