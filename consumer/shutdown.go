package consumer

import (
	"context"
	"sync"
	"time"
)

// shutdown performs the two-step drain: wait up to cfg.ShutdownGrace for
// in-flight workers to finish, then commit the highest contiguous completed
// offset per partition regardless of whether the wait timed out, then
// hard-cancel so any straggler's blocking I/O unblocks, then close the
// sink and source. Stragglers never have their offset advanced, since the
// OffsetManager's contiguous-cursor invariant simply never includes them.
func (p *Pipeline) shutdown(cancel context.CancelFunc, workersDone <-chan error, omWg *sync.WaitGroup) error {
	grace := time.NewTimer(p.cfg.ShutdownGrace)
	defer grace.Stop()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(p.jobs)
		<-workersDone
		close(drained)
	}()

	select {
	case <-drained:
	case <-grace.C:
		p.log.Warn("shutdown grace period elapsed with workers still in flight")
	}

	p.om.Flush(context.Background())

	cancel()
	omWg.Wait()

	var lastErr error
	if err := p.cfg.Source.Close(); err != nil {
		lastErr = err
	}
	if err := p.cfg.Sink.Close(); err != nil {
		lastErr = err
	}
	if p.cfg.DLQ != nil {
		if err := p.cfg.DLQ.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
