// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/sylvia-iot/general-mq/gmq"
	"github.com/sylvia-iot/general-mq/internal/validate"
)

// packetHandler is the spec §3 PacketHandler record: a per-queue-name
// {topic, qos, handler}. Dispatch on an inbound message keys by the
// owning queue's name rather than its subscribed topic: the broker
// strips any "$share/..." group prefix before delivery (spec §4.2
// "Routing"), so the delivered topic equals the queue's name even when
// the subscribed topic carried a sharedPrefix. One map keyed by name
// serves both addPacketHandler/removePacketHandler (by name) and message
// dispatch (by the delivered, already-stripped topic).
type packetHandler struct {
	topic   string
	qos     byte
	handler func(topic string, payload []byte)
}

// Connection is one MQTT transport: a single paho.mqtt.golang client
// shared by every Queue built on it, plus the packet-handler registry
// described in spec §4.1 "Packet-handler registry (MQTT)". Grounded on
// nerrad567-gray-logic-stack's mqtt.Client (subscriptions map + restore on
// reconnect, connect/disconnect callback wiring).
type Connection struct {
	opts   *ConnectionOptions
	scheme string
	host   string

	mu     sync.RWMutex
	status gmq.Status
	client pahomqtt.Client

	broadcaster gmq.StatusBroadcaster

	handlersMu sync.RWMutex
	handlers   map[string]*packetHandler

	closing atomic.Bool
	logger  hclog.Logger
}

var _ gmq.Connection = (*Connection)(nil)

// New validates opts and builds an unconnected Connection.
func New(opts *ConnectionOptions, logger hclog.Logger) (*Connection, error) {
	if opts == nil {
		return nil, gmq.NewInvalidArgument("opts", "must not be nil")
	}
	u, err := validate.HostURI(opts.URI, validate.MQTTScheme, gmq.NewInvalidArgument)
	if err != nil {
		return nil, err
	}
	if err := opts.validateClientID(); err != nil {
		return nil, err
	}
	if opts.ClientID == "" {
		opts.ClientID = "general-mq-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Connection{
		opts:     opts,
		scheme:   u.Scheme,
		host:     u.Host,
		status:   gmq.StatusClosed,
		handlers: make(map[string]*packetHandler),
		logger:   logger.Named("gmq.mqtt.connection"),
	}, nil
}

func (c *Connection) URI() string {
	return fmt.Sprintf("%s://%s", c.scheme, c.host)
}

func (c *Connection) Status() gmq.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Connection) SetStatusHandler(l gmq.StatusListener) {
	c.broadcaster.Add(l)
}

func (c *Connection) setStatus(s gmq.Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
	c.broadcaster.Emit(s)
}

func (c *Connection) brokerURL() string {
	scheme := "tcp"
	if c.scheme == "mqtts" {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s", scheme, c.host)
}

func (c *Connection) buildClientOptions() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(c.brokerURL())
	opts.SetClientID(c.opts.ClientID)
	opts.SetCleanSession(c.opts.cleanSession())
	opts.SetConnectTimeout(c.opts.connectTimeout())
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(c.opts.reconnectInterval())
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(c.opts.reconnectInterval())
	if tlsCfg := c.opts.tlsConfig(); tlsCfg != nil {
		opts.SetTLSConfig(tlsCfg)
	}
	opts.SetDefaultPublishHandler(c.onMessage)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.setStatus(gmq.StatusConnected) })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if c.closing.Load() {
			return
		}
		c.logger.Warn("mqtt connection lost", "error", err)
		c.setStatus(gmq.StatusConnecting)
	})
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		if c.closing.Load() {
			return
		}
		c.setStatus(gmq.StatusConnecting)
	})
	return opts
}

func (c *Connection) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	topic := msg.Topic()
	c.handlersMu.RLock()
	h, ok := c.handlers[topic]
	c.handlersMu.RUnlock()
	if !ok {
		return
	}
	h.handler(topic, msg.Payload())
}

// Connect is idempotent from Closed/Closing; a no-op from
// Connecting/Connected. Retrying after the initial attempt is delegated to
// the underlying paho client (spec §4.1 "MQTT state machine").
func (c *Connection) Connect() error {
	c.mu.Lock()
	switch c.status {
	case gmq.StatusConnecting, gmq.StatusConnected:
		c.mu.Unlock()
		return nil
	}
	c.status = gmq.StatusConnecting
	if c.client == nil {
		c.client = pahomqtt.NewClient(c.buildClientOptions())
	}
	client := c.client
	c.mu.Unlock()
	c.broadcaster.Emit(gmq.StatusConnecting)

	token := client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			c.logger.Warn("mqtt connect failed, paho will retry", "error", err)
		}
	}()
	return nil
}

// Close always drives state to Closed and invokes ack exactly once.
func (c *Connection) Close(ack gmq.AckFunc) error {
	c.mu.Lock()
	if c.status == gmq.StatusClosed {
		c.mu.Unlock()
		if ack != nil {
			ack(nil)
		}
		return nil
	}
	c.status = gmq.StatusClosing
	client := c.client
	c.mu.Unlock()

	c.closing.Store(true)
	if client != nil {
		client.Disconnect(250)
	}

	c.setStatus(gmq.StatusClosed)
	if ack != nil {
		ack(nil)
	}
	return nil
}

// rawClient returns the live paho client, or an error if not Connected.
func (c *Connection) rawClient() (pahomqtt.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.status != gmq.StatusConnected || c.client == nil {
		return nil, gmq.ErrNotConnected
	}
	return c.client, nil
}

// addPacketHandler validates name/topic and records the handler, per spec
// §4.1.
func (c *Connection) addPacketHandler(name, topic string, reliable bool, handler func(string, []byte)) error {
	if err := validate.Name(name, gmq.NewInvalidArgument); err != nil {
		return err
	}
	if !topicEndsWithName(topic, name) {
		return ErrBadPacketHandler
	}
	qos := byte(0)
	if reliable {
		qos = 1
	}
	c.handlersMu.Lock()
	c.handlers[name] = &packetHandler{topic: topic, qos: qos, handler: handler}
	c.handlersMu.Unlock()
	return nil
}

// removePacketHandler removes by queue name, see packetHandler's doc
// comment.
func (c *Connection) removePacketHandler(name string) {
	c.handlersMu.Lock()
	delete(c.handlers, name)
	c.handlersMu.Unlock()
}

func (c *Connection) subscribe(topic string, qos byte) error {
	client, err := c.rawClient()
	if err != nil {
		return err
	}
	token := client.Subscribe(topic, qos, nil)
	token.Wait()
	return token.Error()
}

func (c *Connection) unsubscribe(topic string) {
	client, err := c.rawClient()
	if err != nil {
		return
	}
	token := client.Unsubscribe(topic)
	token.Wait()
}

func (c *Connection) publish(topic string, payload []byte, qos byte) pahomqtt.Token {
	client, err := c.rawClient()
	if err != nil {
		return nil
	}
	return client.Publish(topic, qos, false, payload)
}
