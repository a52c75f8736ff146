// Package generator defines the boundary to the external content-generation
// backend. The orchestrator only depends on the Generator interface; how
// content is actually produced lives behind it.
package generator

import (
	"context"

	api "github.com/panelforge/panelforge/api/v1alpha1"
)

// Generator produces one content panel for a topic. Titles already produced
// for the same job are passed in excludeTitles so the backend can avoid
// duplicates; honoring the hint is best effort.
type Generator interface {
	Generate(ctx context.Context, input api.UserInput, topic string, excludeTitles []string) (*api.Panel, error)
}

// Func adapts a plain function to the Generator interface.
type Func func(ctx context.Context, input api.UserInput, topic string, excludeTitles []string) (*api.Panel, error)

func (f Func) Generate(ctx context.Context, input api.UserInput, topic string, excludeTitles []string) (*api.Panel, error) {
	return f(ctx, input, topic, excludeTitles)
}
