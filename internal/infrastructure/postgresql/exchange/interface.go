package exchange

import (
	"github.com/brasaex/exchange/internal/usecase/engine"
	"github.com/brasaex/exchange/internal/usecase/journal"
)

// The repository serves both sides of the durable store: the flusher's write
// sink and the engine's read source.
var (
	_ journal.Store = (*Repository)(nil)
	_ engine.Store  = (*Repository)(nil)
)
