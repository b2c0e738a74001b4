// Package status publishes the sync status with latest-value semantics.
package status

import (
	"context"

	"github.com/moyoez/readersync/share"
	"github.com/moyoez/readersync/tool"
	"github.com/moyoez/readersync/types"
)

// Publisher always holds a current SyncStatus, starting at Idle.
type Publisher struct {
	latest *share.Latest[types.SyncStatus]
}

func NewPublisher() *Publisher {
	return &Publisher{latest: share.NewLatest[types.SyncStatus](types.StatusIdle{})}
}

// Publish replaces the current status.
func (p *Publisher) Publish(s types.SyncStatus) {
	tool.DefaultLogger.Debugf("[Status] %s", s.Phase())
	p.latest.Set(s)
}

// PublishIf publishes next only when pred accepts the current status.
func (p *Publisher) PublishIf(pred func(types.SyncStatus) bool, next types.SyncStatus) bool {
	ok := p.latest.Update(func(cur types.SyncStatus) (types.SyncStatus, bool) {
		return next, pred(cur)
	})
	if ok {
		tool.DefaultLogger.Debugf("[Status] %s", next.Phase())
	}
	return ok
}

// Current returns the active status.
func (p *Publisher) Current() types.SyncStatus {
	return p.latest.Get()
}

// CurrentSeq returns the active status with its sequence number. The number
// grows with every publish, so a status with a higher one was published later.
func (p *Publisher) CurrentSeq() (types.SyncStatus, uint64) {
	return p.latest.GetVersioned()
}

// Observe streams the current status and every later one until ctx ends.
func (p *Publisher) Observe(ctx context.Context) <-chan types.SyncStatus {
	return p.latest.Subscribe(ctx)
}
