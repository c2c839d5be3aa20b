// Package embedder defines the embedding contract (C5): turn text into a
// fixed-length vector. A deterministic test implementation and a
// batching/retrying remote implementation (embedder/remote) both satisfy it.
package embedder

import "context"

// Embedder turns texts into fixed-length float vectors, one per input, in
// order. Implementations must return a vector of exactly Dimension()
// length for every input, or an error.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}
