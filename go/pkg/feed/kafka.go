package feed

import (
	"context"
	"errors"
	"time"

	"indicator-pipeline/go/pkg/market"
	"indicator-pipeline/go/pkg/shared"
)

// Kafka reads envelopes published by the bridge. Offsets are committed once
// the event has been handed to out, or immediately for undecodable messages.
type Kafka struct {
	C       shared.Consumer
	Log     shared.Logger
	Metrics *Metrics
}

func (k *Kafka) Start(ctx context.Context, out chan<- market.Event) error {
	if k.C == nil {
		return errors.New("kafka source needs a consumer")
	}
	go func() {
		defer close(out)
		for {
			msg, err := k.C.Poll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				k.Log.Warnf("[feed] kafka poll: %v", err)
				select {
				case <-time.After(500 * time.Millisecond):
				case <-ctx.Done():
					return
				}
				continue
			}
			ev, err := market.UnmarshalEvent(msg.Value)
			if err != nil {
				k.Metrics.malformed.Inc()
				k.Log.Warnf("[feed] skipping %s/%d@%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
				k.commit(ctx, msg)
				continue
			}
			select {
			case out <- ev:
				k.Metrics.events.WithLabelValues(string(ev.Kind)).Inc()
			case <-ctx.Done():
				return
			}
			k.commit(ctx, msg)
		}
	}()
	return nil
}

func (k *Kafka) commit(ctx context.Context, msg *shared.Message) {
	if err := k.C.Commit(ctx, msg); err != nil && ctx.Err() == nil {
		k.Log.Warnf("[feed] commit %s/%d@%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
	}
}
