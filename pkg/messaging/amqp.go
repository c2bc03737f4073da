package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"livecoach-server/pkg/errors"
	"livecoach-server/pkg/metrics"
)

// AMQPConfig holds AMQP publisher configuration
type AMQPConfig struct {
	URL          string
	ExchangeName string
	Durable      bool
}

// AMQPPublisher publishes call events to a topic exchange with routing
// keys of the form call.<call_id>.<event_type>, so consumers can bind to
// a single call, a single event type, or everything.
type AMQPPublisher struct {
	logger    *logrus.Logger
	config    AMQPConfig
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
}

// NewAMQPPublisher creates an AMQP publisher. Call Connect before publishing.
func NewAMQPPublisher(logger *logrus.Logger, config AMQPConfig) *AMQPPublisher {
	if config.ExchangeName == "" {
		config.ExchangeName = "livecoach.events"
	}
	config.Durable = true
	return &AMQPPublisher{
		logger:   logger,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Connect establishes the connection and declares the topic exchange.
// Dialing is bounded so a dead broker cannot hang server startup.
func (p *AMQPPublisher) Connect() error {
	p.connMutex.Lock()
	defer p.connMutex.Unlock()

	if p.connected {
		return nil
	}
	if p.config.URL == "" {
		return fmt.Errorf("AMQP URL not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connChan := make(chan struct {
		conn *amqp.Connection
		err  error
	}, 1)
	go func() {
		conn, err := amqp.Dial(p.config.URL)
		select {
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		case connChan <- struct {
			conn *amqp.Connection
			err  error
		}{conn, err}:
		}
	}()

	var conn *amqp.Connection
	var err error
	select {
	case result := <-connChan:
		conn = result.conn
		err = result.err
	case <-ctx.Done():
		return fmt.Errorf("connection to AMQP server timed out after 5 seconds")
	}
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		p.config.ExchangeName,
		"topic",
		p.config.Durable,
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare AMQP exchange: %w", err)
	}

	p.conn = conn
	p.channel = channel
	p.connected = true
	p.stopChan = make(chan struct{})

	p.logger.WithFields(logrus.Fields{
		"url":      p.config.URL,
		"exchange": p.config.ExchangeName,
	}).Info("Connected to AMQP server")

	go p.monitorConnection()
	return nil
}

// monitorConnection watches for broker-side closes and reconnects with backoff
func (p *AMQPPublisher) monitorConnection() {
	p.connMutex.RLock()
	conn := p.conn
	p.connMutex.RUnlock()
	if conn == nil {
		return
	}

	closeChan := conn.NotifyClose(make(chan *amqp.Error, 1))
	select {
	case <-p.stopChan:
		return
	case amqpErr := <-closeChan:
		if amqpErr == nil {
			return
		}
		p.logger.WithField("error", amqpErr.Error()).Warn("AMQP connection closed, reconnecting")
	}

	p.connMutex.Lock()
	p.connected = false
	p.connMutex.Unlock()

	backoff := time.Second
	for {
		select {
		case <-p.stopChan:
			return
		case <-time.After(backoff):
		}
		if err := p.Connect(); err == nil {
			return
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// Publish sends one call event to the exchange. Bounded by the caller's
// context; an unconnected publisher fails fast.
func (p *AMQPPublisher) Publish(ctx context.Context, callID string, eventType EventType, payload interface{}) error {
	p.connMutex.RLock()
	connected := p.connected
	channel := p.channel
	p.connMutex.RUnlock()

	if !connected || channel == nil {
		metrics.PublishErrors.Inc()
		return errors.ErrPublishFailed
	}

	body, err := json.Marshal(NewEvent(callID, eventType, payload))
	if err != nil {
		metrics.PublishErrors.Inc()
		return errors.Wrap(err, "failed to marshal call event")
	}

	routingKey := fmt.Sprintf("call.%s.%s", callID, eventType)
	publishChan := make(chan error, 1)
	go func() {
		publishChan <- channel.Publish(
			p.config.ExchangeName,
			routingKey,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				Body:         body,
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
			},
		)
	}()

	select {
	case err := <-publishChan:
		if err != nil {
			metrics.PublishErrors.Inc()
			return errors.Wrap(err, "failed to publish call event")
		}
	case <-ctx.Done():
		metrics.PublishErrors.Inc()
		return errors.Wrap(ctx.Err(), "publishing call event timed out")
	}

	metrics.EventsPublished.WithLabelValues(string(eventType)).Inc()
	p.logger.WithFields(logrus.Fields{
		"call_id":     callID,
		"event_type":  eventType,
		"routing_key": routingKey,
	}).Debug("Published call event")
	return nil
}

// Close shuts the publisher down
func (p *AMQPPublisher) Close() error {
	p.connMutex.Lock()
	defer p.connMutex.Unlock()

	if !p.connected {
		return nil
	}
	close(p.stopChan)
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	p.connected = false
	p.logger.Info("Disconnected from AMQP server")
	return nil
}
