// Package ingest connects the bus to the rule core: inbound messages are
// decoded, cached and dispatched; outbound values are formatted and
// published.
package ingest

import (
	"context"

	"mqttlogic/internal/topic"
	"mqttlogic/internal/value"
	"mqttlogic/pkg/logx"
)

// Dispatcher runs handlers for a stored update. *events.Registry
// implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, topicName string, st topic.State)
}

// Stats counts traffic. *metrics.Metrics implements it.
type Stats interface {
	MessageIngested(retained bool)
	Published(err error)
}

type Pipeline struct {
	store    *topic.Store
	dispatch Dispatcher
	stats    Stats
	log      logx.Logger
}

func NewPipeline(store *topic.Store, d Dispatcher, stats Stats, log logx.Logger) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{store: store, dispatch: d, stats: stats, log: log}
}

// IngestMessage stores one bus message. Retained messages only update the
// cache; everything else is dispatched under the "//" form of its topic.
func (p *Pipeline) IngestMessage(ctx context.Context, topicName string, payload []byte, retained bool) topic.State {
	v, full := value.DecodePayload(payload)
	st := p.store.StoreMessage(topicName, v, full)

	if p.stats != nil {
		p.stats.MessageIngested(retained)
	}
	if p.log.Enabled(logx.LevelTrace) {
		p.log.Trace("message",
			logx.String("topic", topicName),
			logx.String("value", v.String()),
			logx.String("kind", v.Kind().String()),
			logx.Bool("retained", retained),
			logx.Bool("refresh", st.WasRefreshed()),
		)
	}
	if retained || p.dispatch == nil {
		return st
	}
	p.dispatch.Dispatch(ctx, topic.RemoveStatusFunction(topicName), st)
	return st
}
