package consumer

import (
	"context"

	"github.com/markuskont/sigmastream/broker"
)

// watchRebalance subscribes to a Rebalancer-capable Source's revocation
// signal, if the concrete Source implements broker.Rebalancer. On each
// revocation it pauses the revoked partitions, flushes the offset manager's
// contiguous cursors, then leaves the partitions paused for the transport
// to reassign. It does not wait for workers still evaluating events of the
// revoked partitions; completions that land after the flush are not
// committed by it.
// Sources without rebalance support (Memory, Stdio) are simply never
// asserted against broker.Rebalancer, so this is a no-op for them.
func (p *Pipeline) watchRebalance(ctx context.Context) {
	rb, ok := p.cfg.Source.(broker.Rebalancer)
	if !ok {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case revoked, ok := <-rb.Revoked():
			if !ok {
				return
			}
			p.cfg.Source.Pause(revoked...)
			p.om.Flush(ctx)
			p.log.WithField("partitions", revoked).Info("released revoked partitions")
		}
	}
}
