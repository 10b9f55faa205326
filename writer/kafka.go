// Package writer forwards the normalized event stream to Kafka.
package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"

	appconfig "cryptostream/config"
	"cryptostream/internal/metrics"
	"cryptostream/logger"
	"cryptostream/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// eventRecord is the JSON value of one Kafka message. Exactly one of Data
// and Error is set.
type eventRecord struct {
	Exchange     models.ExchangeID  `json:"exchange"`
	Kind         models.StreamKind  `json:"kind,omitempty"`
	Instrument   *models.Instrument `json:"instrument,omitempty"`
	ExchangeTime *time.Time         `json:"exchange_time,omitempty"`
	ReceivedTime *time.Time         `json:"received_time,omitempty"`
	Data         models.EventKind   `json:"data,omitempty"`
	Error        string             `json:"error,omitempty"`
	ErrorKind    string             `json:"error_kind,omitempty"`
}

// encode keys market events by exchange and instrument so one book stays on
// one partition. Errors are keyed by exchange.
func encode(ev models.StreamEvent) (kafka.Message, error) {
	rec := eventRecord{Exchange: ev.Exchange}
	key := string(ev.Exchange)
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
		rec.ErrorKind = metrics.ErrorKind(ev.Err)
	} else {
		e := ev.Event
		rec.Instrument = &e.Instrument
		rec.Data = e.Kind
		if e.Kind != nil {
			rec.Kind = e.Kind.StreamKind()
		}
		if !e.ExchangeTime.IsZero() {
			rec.ExchangeTime = &e.ExchangeTime
		}
		if !e.ReceivedTime.IsZero() {
			rec.ReceivedTime = &e.ReceivedTime
		}
		key = fmt.Sprintf("%s:%s", ev.Exchange, e.Instrument)
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{Key: []byte(key), Value: value}, nil
}

type KafkaWriter struct {
	events       <-chan models.StreamEvent
	writer       messageWriter
	batchSize    int
	batchTimeout time.Duration
	ctx          context.Context
	wg           *sync.WaitGroup
	mu           sync.RWMutex
	running      bool
	log          *logger.Entry
}

func NewKafkaWriter(cfg appconfig.KafkaConfig, events <-chan models.StreamEvent) (*KafkaWriter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic not configured")
	}
	kw := newKafkaWriter(cfg, events, &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
	})
	kw.log.WithFields(logger.Fields{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Debug("kafka writer initialized")
	return kw, nil
}

func newKafkaWriter(cfg appconfig.KafkaConfig, events <-chan models.StreamEvent, w messageWriter) *KafkaWriter {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}
	return &KafkaWriter{
		events:       events,
		writer:       w,
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		wg:           &sync.WaitGroup{},
		log:          logger.GetLogger().WithComponent("kafka_writer"),
	}
}

func (kw *KafkaWriter) Start(ctx context.Context) error {
	kw.mu.Lock()
	if kw.running {
		kw.mu.Unlock()
		return fmt.Errorf("kafka writer already running")
	}
	kw.running = true
	kw.ctx = ctx
	kw.mu.Unlock()

	kw.log.Debug("starting kafka writer")

	kw.wg.Add(1)
	go kw.run()

	return nil
}

// run batches events until the stream closes or the context ends.
func (kw *KafkaWriter) run() {
	defer kw.wg.Done()

	ticker := time.NewTicker(kw.batchTimeout)
	defer ticker.Stop()

	batch := make([]kafka.Message, 0, kw.batchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := kw.writer.WriteMessages(ctx, batch...); err != nil {
			kw.log.WithError(err).WithField("messages", len(batch)).Warn("failed to write messages")
		} else {
			kw.log.WithField("messages", len(batch)).Debug("batch written to kafka")
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-kw.ctx.Done():
			return
		case <-ticker.C:
			flush(kw.ctx)
		case ev, ok := <-kw.events:
			if !ok {
				flush(context.Background())
				return
			}
			msg, err := encode(ev)
			if err != nil {
				kw.log.WithError(err).Warn("failed to encode event")
				continue
			}
			batch = append(batch, msg)
			if len(batch) >= kw.batchSize {
				flush(kw.ctx)
			}
		}
	}
}

// Stop waits for the batch loop to end and closes the producer.
func (kw *KafkaWriter) Stop() {
	kw.mu.Lock()
	kw.running = false
	kw.mu.Unlock()

	kw.log.Debug("stopping kafka writer")
	kw.wg.Wait()
	if err := kw.writer.Close(); err != nil {
		kw.log.WithError(err).Warn("failed to close kafka writer")
	}
	kw.log.Debug("kafka writer stopped")
}
