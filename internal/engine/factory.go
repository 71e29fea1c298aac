package engine

// New builds an engine from its collaborators. Call Restore before the
// first Tick to pick up persisted day state.
func New(d Deps) *Engine {
	return newEngine(d)
}
