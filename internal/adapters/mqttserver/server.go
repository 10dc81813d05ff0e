package mqttserver

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Options configures the bridge's MQTT connection.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	TLS       TLSFiles
	Timeout   time.Duration
	Logger    *zap.Logger
	Debug     bool
	// Will is published retained by the broker if the connection drops.
	Will *Will
}

// Will is an MQTT last-will message.
type Will struct {
	Topic   string
	Payload []byte
}

type subscription struct {
	qos     byte
	handler paho.MessageHandler
}

// Client wraps an MQTT connection for presentation modules. The broker
// forgets subscriptions of a clean session, so they are replayed after
// every reconnect.
type Client struct {
	client paho.Client
	log    *zap.Logger
	debug  bool

	mu       sync.Mutex
	subs     map[string]subscription
	restored []func()
}

// NewClient connects to MQTT.
func NewClient(opts Options) (*Client, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	tlsConfig, err := opts.TLS.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("mqtt tls: %w", err)
	}
	c := &Client{log: opts.Logger, debug: opts.Debug, subs: map[string]subscription{}}

	clientOpts := paho.NewClientOptions().AddBroker(opts.BrokerURL)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetConnectTimeout(opts.Timeout)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.log.Warn("mqtt connection lost", zap.Error(err))
	})
	clientOpts.SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
		c.log.Info("mqtt reconnecting", zap.String("broker", opts.BrokerURL))
	})
	clientOpts.SetOnConnectHandler(c.restore)
	if opts.Will != nil {
		clientOpts.SetBinaryWill(opts.Will.Topic, opts.Will.Payload, 1, true)
	}
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}
	if tlsConfig != nil {
		clientOpts.SetTLSConfig(tlsConfig)
	}

	c.client = paho.NewClient(clientOpts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", opts.BrokerURL, token.Error())
	}
	c.log.Info("mqtt connected", zap.String("broker", opts.BrokerURL), zap.String("client_id", opts.ClientID))
	return c, nil
}

// OnRestore registers fn to run each time the connection comes up, after
// subscriptions have been replayed. Retained state lost to the will should
// be republished from here.
func (c *Client) OnRestore(fn func()) {
	c.mu.Lock()
	c.restored = append(c.restored, fn)
	c.mu.Unlock()
}

func (c *Client) restore(client paho.Client) {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for topic, sub := range c.subs {
		subs[topic] = sub
	}
	hooks := append([]func(){}, c.restored...)
	c.mu.Unlock()

	for topic, sub := range subs {
		token := client.Subscribe(topic, sub.qos, sub.handler)
		token.Wait()
		if err := token.Error(); err != nil {
			c.log.Warn("mqtt resubscribe", zap.String("topic", topic), zap.Error(err))
		}
	}
	for _, fn := range hooks {
		fn()
	}
}

// Close disconnects, allowing in-flight work up to quiesce to finish.
func (c *Client) Close(quiesce time.Duration) {
	c.client.Disconnect(uint(quiesce.Milliseconds()))
}

// Publish publishes a message.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if c.debug {
		c.log.Debug("mqtt publish", zap.String("topic", topic), zap.Bool("retained", retained), zap.String("payload", truncatePayload(payload)))
	}
	token := c.client.Publish(topic, qos, retained, payload)
	token.Wait()
	return token.Error()
}

// Subscribe subscribes to a topic. The subscription survives reconnects
// until Unsubscribe.
func (c *Client) Subscribe(topic string, qos byte, handler paho.MessageHandler) error {
	wrapped := handler
	if c.debug {
		c.log.Debug("mqtt subscribe", zap.String("topic", topic))
		wrapped = func(client paho.Client, msg paho.Message) {
			c.log.Debug("mqtt message", zap.String("topic", msg.Topic()), zap.String("payload", truncatePayload(msg.Payload())))
			handler(client, msg)
		}
	}
	token := c.client.Subscribe(topic, qos, wrapped)
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: wrapped}
	c.mu.Unlock()
	return nil
}

// Unsubscribe unsubscribes from a topic.
func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()
	if c.debug {
		c.log.Debug("mqtt unsubscribe", zap.String("topic", topic))
	}
	token := c.client.Unsubscribe(topic)
	token.Wait()
	return token.Error()
}

func truncatePayload(payload []byte) string {
	const max = 2048
	if len(payload) <= max {
		return string(payload)
	}
	return string(payload[:max]) + "..."
}
