package transform

import (
	"context"
	"fmt"
	"time"
)

// Passthrough returns the captured markup unchanged.
type Passthrough struct {
	registry *Registry
}

// NewPassthrough builds a Passthrough that still validates model keys.
func NewPassthrough(registry *Registry) *Passthrough {
	if registry == nil {
		registry = NewRegistry(nil)
	}
	return &Passthrough{registry: registry}
}

// Transform implements Transformer.
func (p *Passthrough) Transform(ctx context.Context, in Input, _ func(string)) (Output, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return Output{}, fmt.Errorf("transform canceled: %w", err)
	}
	model, err := p.registry.Lookup(in.Model)
	if err != nil {
		return Output{}, err
	}
	return Output{
		HTML:      in.Page.HTML,
		CSS:       inlineCSS(in.Page.HTML),
		Reasoning: "Passthrough: captured markup preserved as rendered.",
		ModelUsed: model.ID(),
		Duration:  time.Since(start),
	}, nil
}
