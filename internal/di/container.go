package di

import (
	"context"
	"fmt"
	"sync"

	"artifact-semantics/internal/semantic"
	semanticconfig "artifact-semantics/internal/semantic/config"
	"artifact-semantics/internal/shared/eventbus"
	"artifact-semantics/internal/shared/logger"
)

// Container wires the application's modules and owns their lifecycle.
type Container struct {
	mu sync.RWMutex

	// Core module instance
	SemanticModule *semantic.Module

	// Configuration
	SemanticConfig *semanticconfig.Config

	// Cross-cutting concerns
	Logger logger.Logger
	Bus    *eventbus.EventBus
}

// NewContainer creates an empty container.
func NewContainer(log logger.Logger) *Container {
	if log == nil {
		log = logger.NewLogger()
	}
	return &Container{
		Logger: log,
		Bus:    eventbus.NewEventBus(log),
	}
}

// InitializeSemantic builds the semantic module and performs the initial
// rule load across every scope.
func (c *Container) InitializeSemantic(ctx context.Context, cfg *semanticconfig.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cfg == nil {
		return fmt.Errorf("semantic configuration is required")
	}
	c.SemanticConfig = cfg

	module, err := semantic.NewModule(cfg, c.Logger, c.Bus)
	if err != nil {
		return fmt.Errorf("failed to create semantic module: %w", err)
	}
	if err := module.LoadRules(ctx); err != nil {
		return fmt.Errorf("initial rule load failed: %w", err)
	}

	c.SemanticModule = module
	return nil
}

// Close releases module resources.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SemanticModule != nil {
		return c.SemanticModule.Stop()
	}
	return nil
}
