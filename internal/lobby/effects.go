package lobby

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// effects runs fire-and-forget calls to persistence and analytics. Each
// call gets its own deadline; failures only reach the log.
type effects struct {
	wg      sync.WaitGroup
	timeout time.Duration
	logger  *log.Logger
}

func (e *effects) Go(what string, fn func(ctx context.Context) error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			e.logger.Error("side effect failed", "op", what, "err", err)
		}
	}()
}

func (e *effects) Wait() {
	e.wg.Wait()
}
