// Package topics provides candidate-topic sources for the choosing phase.
package topics

import (
	"context"
	"math/rand"
)

// Source supplies candidate topic strings. The postgres store implements
// this over its topics table; Static serves a configured list.
type Source interface {
	Candidates(ctx context.Context, n int) ([]string, error)
}

// Static serves a fixed pool, shuffled per call so repeat sessions see
// different candidates.
type Static struct {
	pool []string
}

func NewStatic(pool []string) *Static {
	return &Static{pool: append([]string(nil), pool...)}
}

func (s *Static) Candidates(_ context.Context, n int) ([]string, error) {
	out := append([]string(nil), s.pool...)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}
