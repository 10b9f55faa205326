package metrics

import (
	"sync"
	"time"

	"cryptostream/logger"
)

// Metric is one structured sample. Exchange is lifted from the "exchange"
// field so consumers can filter per venue.
type Metric struct {
	Timestamp time.Time
	Component string
	Exchange  string
	Name      string
	Value     interface{}
	Type      string
	Fields    logger.Fields
}

type MetricHandler func(Metric)

type MetricHandlerID uint64

type handlerSet struct {
	mu       sync.RWMutex
	next     MetricHandlerID
	handlers map[MetricHandlerID]MetricHandler
}

func newHandlerSet() *handlerSet {
	return &handlerSet{handlers: make(map[MetricHandlerID]MetricHandler)}
}

func (s *handlerSet) add(h MetricHandler) MetricHandlerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.handlers[s.next] = h
	return s.next
}

func (s *handlerSet) remove(id MetricHandlerID) {
	s.mu.Lock()
	delete(s.handlers, id)
	s.mu.Unlock()
}

// list copies the handlers so none runs under the lock.
func (s *handlerSet) list() []MetricHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MetricHandler, 0, len(s.handlers))
	for _, h := range s.handlers {
		out = append(out, h)
	}
	return out
}

var sinks = newHandlerSet()

// RegisterMetricHandler subscribes h to every emitted sample. A nil handler
// gets id zero and is never called.
func RegisterMetricHandler(h MetricHandler) MetricHandlerID {
	if h == nil {
		return 0
	}
	return sinks.add(h)
}

func UnregisterMetricHandler(id MetricHandlerID) {
	if id != 0 {
		sinks.remove(id)
	}
}

// EmitMetric logs a sample through log (CloudWatch included when enabled) and
// hands a copy to every registered handler.
func EmitMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) {
	if name == "" {
		return
	}
	if log == nil {
		log = logger.GetLogger()
	}
	if metricType == "" {
		metricType = "counter"
	}

	copied := make(logger.Fields, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	exchangeID, _ := copied["exchange"].(string)

	log.LogMetric(component, name, value, metricType, copied)

	m := Metric{
		Timestamp: time.Now(),
		Component: component,
		Exchange:  exchangeID,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    copied,
	}
	for _, h := range sinks.list() {
		h(m)
	}
}

// emitVenue records a venue lifecycle sample. Only used for rare events;
// per-message counters stay Prometheus-only.
func emitVenue(component, name, exchangeID string) {
	EmitMetric(nil, component, name, 1, "counter", logger.Fields{"exchange": exchangeID})
}
