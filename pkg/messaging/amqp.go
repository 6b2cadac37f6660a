// Package messaging publishes completed session results to an AMQP queue so
// downstream consumers (progress tracking, analytics) can pick them up.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"resonance-engine/pkg/metrics"
	"resonance-engine/pkg/scoring"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// RecordMessage wraps a finished session record for the queue
type RecordMessage struct {
	Record     *scoring.Record `json:"record"`
	Transcript string          `json:"transcript,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Config holds AMQP client configuration. An empty URL disables publishing.
type Config struct {
	URL       string
	QueueName string
}

// Client handles the AMQP connection and record publishing. A client built
// without a URL is a no-op publisher, so callers never need to branch.
type Client struct {
	logger    *logrus.Logger
	config    Config
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
}

// NewClient creates an AMQP client
func NewClient(logger *logrus.Logger, config Config) *Client {
	return &Client{
		logger:   logger,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Enabled reports whether the client is configured to publish
func (c *Client) Enabled() bool {
	return c.config.URL != "" && c.config.QueueName != ""
}

// Connect establishes the connection and declares the queue. Disabled
// clients return nil without connecting.
func (c *Client) Connect() error {
	if !c.Enabled() {
		c.logger.Info("AMQP not configured, record publishing disabled")
		return nil
	}

	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.connected {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connChan := make(chan struct {
		conn *amqp.Connection
		err  error
	}, 1)

	go func() {
		conn, err := amqp.Dial(c.config.URL)
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
		metrics.IncCounterVec(metrics.AMQPConnectionErrors, "timeout")
		return fmt.Errorf("connection to AMQP server timed out")
	}
	if err != nil {
		metrics.IncCounterVec(metrics.AMQPConnectionErrors, "dial")
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		metrics.IncCounterVec(metrics.AMQPConnectionErrors, "channel")
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	if _, err := channel.QueueDeclare(
		c.config.QueueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		metrics.IncCounterVec(metrics.AMQPConnectionErrors, "declare")
		return fmt.Errorf("failed to declare AMQP queue: %w", err)
	}

	c.conn = conn
	c.channel = channel
	c.connected = true
	c.stopChan = make(chan struct{})

	go c.monitorConnection()

	c.logger.WithFields(logrus.Fields{
		"queue": c.config.QueueName,
	}).Info("Connected to AMQP server")

	return nil
}

// Disconnect closes the AMQP connection
func (c *Client) Disconnect() {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if !c.connected {
		return
	}

	close(c.stopChan)

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}

	c.connected = false
	c.logger.Info("Disconnected from AMQP server")
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// PublishRecord publishes a finished session record with its transcript.
// No-op when the client is disabled.
func (c *Client) PublishRecord(record *scoring.Record, transcript string) error {
	if !c.Enabled() {
		return nil
	}
	if record == nil {
		return nil
	}

	if !c.IsConnected() {
		metrics.IncCounterVec(metrics.AMQPPublishedMessages, c.config.QueueName, "dropped")
		return fmt.Errorf("not connected to AMQP server")
	}

	body, err := json.Marshal(RecordMessage{
		Record:     record,
		Transcript: transcript,
		Timestamp:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	if !c.connected || c.channel == nil {
		metrics.IncCounterVec(metrics.AMQPPublishedMessages, c.config.QueueName, "dropped")
		return fmt.Errorf("lost AMQP connection before publishing")
	}

	if err := c.channel.Publish(
		"",                 // default exchange
		c.config.QueueName, // routing key
		false,              // mandatory
		false,              // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	); err != nil {
		metrics.IncCounterVec(metrics.AMQPPublishedMessages, c.config.QueueName, "error")
		return fmt.Errorf("failed to publish record: %w", err)
	}

	metrics.IncCounterVec(metrics.AMQPPublishedMessages, c.config.QueueName, "ok")
	c.logger.WithField("record_id", record.ID).Debug("Published record to AMQP")
	return nil
}

// monitorConnection reconnects with backoff when the broker drops us
func (c *Client) monitorConnection() {
	c.connMutex.RLock()
	conn := c.conn
	stopChan := c.stopChan
	c.connMutex.RUnlock()

	closeChan := make(chan *amqp.Error, 1)
	conn.NotifyClose(closeChan)

	select {
	case <-stopChan:
		return
	case amqpErr := <-closeChan:
		if amqpErr == nil {
			return
		}
		c.logger.WithField("error", amqpErr.Error()).Warn("AMQP connection lost, reconnecting")
		metrics.IncCounterVec(metrics.AMQPConnectionErrors, "closed")

		c.connMutex.Lock()
		c.connected = false
		c.connMutex.Unlock()

		backoff := time.Second
		for {
			select {
			case <-stopChan:
				return
			case <-time.After(backoff):
			}

			if err := c.Connect(); err == nil {
				return
			}

			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}
}
