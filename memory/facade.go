package memory

import (
	"context"

	"github.com/evolvai/evolv/core"
)

// Facade bundles the three memory stores behind one handle: the volatile
// working store, the durable knowledge store, and the append-only episodic
// log. Callers depend on the individual store they need; the facade only
// owns construction and shutdown.
type Facade struct {
	Working   *WorkingStore
	Knowledge *KnowledgeStore
	Episodic  *EpisodicLog
}

// New builds the full memory substrate from configuration.
func New(config core.MemoryConfig, logger core.Logger) (*Facade, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	knowledge, err := NewKnowledgeStore(config.Knowledge, nil, logger)
	if err != nil {
		return nil, err
	}
	episodic, err := NewEpisodicLog(config.Episodic.URI, logger)
	if err != nil {
		knowledge.Close()
		return nil, err
	}
	return &Facade{
		Working:   NewWorkingStore(config.Working, logger),
		Knowledge: knowledge,
		Episodic:  episodic,
	}, nil
}

// Start launches the background maintenance loops.
func (f *Facade) Start(ctx context.Context) {
	f.Knowledge.StartOptimizer(ctx)
}

// Close shuts the substrate down. The working store's contents are
// discarded: it never outlives the process.
func (f *Facade) Close() error {
	f.Working.Close()
	f.Knowledge.Close()
	return f.Episodic.Close()
}
