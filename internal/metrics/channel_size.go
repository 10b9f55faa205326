package metrics

import (
	"context"
	"time"

	"cryptostream/logger"
)

// DepthFunc reports the number of buffered events per venue queue.
type DepthFunc func() map[string]int

// StartQueueDepthMetrics samples queue depths every interval until ctx is
// done. Unbounded queues make this the only signal of a slow consumer.
func StartQueueDepthMetrics(ctx context.Context, depths DepthFunc, interval time.Duration) {
	if depths == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for exchangeID, depth := range depths() {
					SetQueueDepth(exchangeID, depth)
					EmitMetric(log, "queues", "queue_depth", depth, "gauge", logger.Fields{
						"exchange": exchangeID,
					})
				}
			}
		}
	}()
}
