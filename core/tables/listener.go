package tables

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/relabs-tech/dbproxy/core/logger"
)

// Invalidator is told about organizations whose tables changed
type Invalidator interface {
	Invalidate(organizationID uuid.UUID)
}

// InvalidateAll is implemented by invalidators that can drop everything at
// once. The listener uses it after a lost connection, when notifications
// may have been missed.
type InvalidateAll interface {
	InvalidateAll()
}

// Listener forwards notifications from ChangeChannel to an Invalidator
type Listener struct {
	listener    *pq.Listener
	invalidator Invalidator
}

// NewListener opens a dedicated connection listening on ChangeChannel.
func NewListener(dataSourceName string, invalidator Invalidator) (*Listener, error) {
	rlog := logger.Default()
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			rlog.WithError(err).Warnln("internal table listener:", ev)
		}
	}
	l := pq.NewListener(dataSourceName, time.Second, time.Minute, reportProblem)
	if err := l.Listen(ChangeChannel); err != nil {
		l.Close()
		return nil, err
	}
	return &Listener{listener: l, invalidator: invalidator}, nil
}

// Run dispatches notifications until the context is done
func (l *Listener) Run(ctx context.Context) {
	rlog := logger.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			l.listener.Close()
			return
		case n := <-l.listener.Notify:
			if n == nil {
				// reconnected, we may have missed notifications
				if all, ok := l.invalidator.(InvalidateAll); ok {
					all.InvalidateAll()
				}
				continue
			}
			organizationID, err := uuid.Parse(n.Extra)
			if err != nil {
				rlog.WithError(err).Warnf("ignoring notification with payload '%s'", n.Extra)
				continue
			}
			rlog.Debugln("internal tables changed for organization", organizationID)
			l.invalidator.Invalidate(organizationID)
		case <-time.After(90 * time.Second):
			go l.listener.Ping()
		}
	}
}
