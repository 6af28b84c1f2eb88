package agent

import (
	"sync"

	"github.com/quantumflow/nevra/internal/inference"
	"github.com/quantumflow/nevra/internal/logging"
	"github.com/quantumflow/nevra/internal/models"
)

type cacheKey struct {
	role  models.Role
	model string
}

// Factory lazily builds agents and caches them by (role, model).
// Agents are stateless, so cached instances are shared across requests.
type Factory struct {
	completer inference.Completer
	logger    *logging.Logger

	mu     sync.RWMutex
	config *Config
	cache  map[cacheKey]Agent
}

// NewFactory creates an agent factory on top of completer
func NewFactory(completer inference.Completer, config *Config, logger *logging.Logger) *Factory {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Factory{
		completer: completer,
		logger:    logger,
		config:    config,
		cache:     make(map[cacheKey]Agent),
	}
}

// UpdateConfig swaps in config and a fresh cache. Agents already handed out
// keep the configuration they were built with.
func (f *Factory) UpdateConfig(config *Config) {
	if config == nil {
		config = DefaultConfig()
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.config = config
	f.cache = make(map[cacheKey]Agent)
}

// Planner returns the planner bound to model
func (f *Factory) Planner(model string) *Planner {
	return f.get(models.RolePlanner, model).(*Planner)
}

// Executor returns the executor bound to model
func (f *Factory) Executor(model string) *Executor {
	return f.get(models.RoleExecutor, model).(*Executor)
}

// Reviewer returns the reviewer bound to model
func (f *Factory) Reviewer(model string) *Reviewer {
	return f.get(models.RoleReviewer, model).(*Reviewer)
}

// Reflector returns the self-reflection agent bound to model
func (f *Factory) Reflector(model string) *Reflector {
	return f.get(models.RoleReflection, model).(*Reflector)
}

// Size returns the number of cached agents
func (f *Factory) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.cache)
}

func (f *Factory) get(role models.Role, model string) Agent {
	key := cacheKey{role: role, model: model}

	f.mu.RLock()
	a, ok := f.cache[key]
	f.mu.RUnlock()
	if ok {
		return a
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.cache[key]; ok {
		return a
	}

	b := newBase(role, model, f.completer, f.config, f.logger)
	switch role {
	case models.RolePlanner:
		a = &Planner{base: b}
	case models.RoleExecutor:
		a = &Executor{base: b}
	case models.RoleReviewer:
		a = &Reviewer{base: b}
	default:
		a = &Reflector{base: b}
	}
	f.cache[key] = a
	return a
}
