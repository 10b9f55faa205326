package transformer

import (
	"cryptostream/exchange"
	"cryptostream/models"
)

// Router dispatches frames of one connection to the transformer that owns
// their subscription, so a group may mix stream kinds.
type Router struct {
	exchange models.ExchangeID
	identify func([]byte) (models.SubscriptionID, bool)
	routes   map[models.SubscriptionID]exchange.Transformer
	expirers []Expirer
}

// Expirer is a transformer with deadlines that must be checked even when its
// own subscriptions are silent.
type Expirer interface {
	Expire() []models.StreamEvent
}

func NewRouter(exchangeID models.ExchangeID, identify func([]byte) (models.SubscriptionID, bool), routes map[models.SubscriptionID]exchange.Transformer) *Router {
	r := &Router{exchange: exchangeID, identify: identify, routes: routes}
	seen := make(map[Expirer]bool)
	for _, t := range routes {
		if e, ok := t.(Expirer); ok && !seen[e] {
			seen[e] = true
			r.expirers = append(r.expirers, e)
		}
	}
	return r
}

// Transform routes one frame, then checks deadlines on every frame of the
// connection, acks and heartbeats included.
func (r *Router) Transform(frame []byte) []models.StreamEvent {
	out := r.route(frame)
	for _, e := range r.expirers {
		out = append(out, e.Expire()...)
	}
	return out
}

// route ignores frames that carry no subscription, such as acks and
// heartbeats.
func (r *Router) route(frame []byte) []models.StreamEvent {
	id, ok := r.identify(frame)
	if !ok {
		return nil
	}
	t, ok := r.routes[id]
	if !ok {
		return []models.StreamEvent{models.ErrorOf(r.exchange, &exchange.UnidentifiedError{ID: id})}
	}
	return t.Transform(frame)
}
