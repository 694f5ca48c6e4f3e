package rembg

import (
	"context"
	"errors"
)

// Remover takes encoded image bytes and returns encoded image bytes with the
// background made transparent. Implementations must be safe for concurrent use.
type Remover interface {
	Remove(ctx context.Context, data []byte) ([]byte, error)
}

// Func adapts a plain function to Remover.
type Func func(ctx context.Context, data []byte) ([]byte, error)

func (f Func) Remove(ctx context.Context, data []byte) ([]byte, error) {
	return f(ctx, data)
}

var ErrEmptyInput = errors.New("empty image data")
