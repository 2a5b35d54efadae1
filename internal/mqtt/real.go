package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	publishTimeout = 5 * time.Second
	bufferSize     = 256
)

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string

	// OnConnectionChange is called from paho's goroutines when the link
	// goes up or down. It must not block.
	OnConnectionChange func(connected bool)

	// OnCommand is called from paho's goroutines for each valid message on
	// the command topic. It must not block.
	OnCommand func(cmd Command)
}

// RealPublisher publishes to an actual MQTT broker. Publishing never blocks
// the caller: while disconnected, messages are held in a ring buffer and
// replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics
	opts   Options

	mu     sync.Mutex
	buffer *ringBuffer
}

// NewRealPublisher creates a publisher for the configured broker. The
// connection is established in the background; an unreachable broker is
// not an error.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	if opts.Broker == "" {
		return nil, fmt.Errorf("no broker configured")
	}
	if opts.ClientID == "" {
		opts.ClientID = "estopd"
	}
	p := &RealPublisher{
		topics: NewTopics(opts.TopicPrefix),
		opts:   opts,
		buffer: newRingBuffer(bufferSize),
	}

	will, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "LWT"})
	po := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetBinaryWill(p.topics.System, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(po)
	p.client.Connect()
	return p, nil
}

func (p *RealPublisher) onConnect(c paho.Client) {
	log.Printf("mqtt: connected to %s", p.opts.Broker)
	if tok := c.Subscribe(p.topics.Command, 1, p.onMessage); tok.WaitTimeout(publishTimeout) && tok.Error() != nil {
		log.Printf("mqtt: subscribe %s: %v", p.topics.Command, tok.Error())
	}

	p.mu.Lock()
	msgs, dropped := p.buffer.drainAll()
	p.mu.Unlock()
	if dropped > 0 {
		log.Printf("mqtt: %d buffered messages lost while offline", dropped)
	}
	for _, m := range msgs {
		p.send(m)
	}
	if p.opts.OnConnectionChange != nil {
		p.opts.OnConnectionChange(true)
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	log.Printf("mqtt: connection lost: %v", err)
	if p.opts.OnConnectionChange != nil {
		p.opts.OnConnectionChange(false)
	}
}

func (p *RealPublisher) onMessage(_ paho.Client, msg paho.Message) {
	cmd, err := ParseCommand(msg.Payload())
	if err != nil {
		log.Printf("mqtt: ignoring message on %s: %v", msg.Topic(), err)
		return
	}
	if p.opts.OnCommand != nil {
		p.opts.OnCommand(cmd)
	}
}

// Publish sends a state transition to the events topic.
func (p *RealPublisher) Publish(event TransitionEvent) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 1: a missed TRIGGERED is worse than a duplicate.
	p.enqueue(bufferedMsg{topic: p.topics.Events, payload: payload, qos: 1})
	return nil
}

// PublishSystem sends a system lifecycle event to the system topic.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	p.enqueue(bufferedMsg{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
	return nil
}

func (p *RealPublisher) enqueue(m bufferedMsg) {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buffer.push(m)
		p.mu.Unlock()
		return
	}
	p.send(m)
}

// send hands m to paho and reports the outcome asynchronously.
func (p *RealPublisher) send(m bufferedMsg) {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			log.Printf("mqtt: publish %s: timeout", m.topic)
			return
		}
		if err := token.Error(); err != nil {
			log.Printf("mqtt: publish %s: %v", m.topic, err)
		}
	}()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// IsConnected reports whether the broker link is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
