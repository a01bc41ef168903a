package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

type MQTTOptions struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
}

// MQTTRepo publishes each event on <prefix>/call/<session>/<type>.
type MQTTRepo struct {
	pub    publisher
	prefix string
}

func NewMQTTRepo(opts MQTTOptions) (*MQTTRepo, error) {
	pub, err := newPahoPublisher(opts)
	if err != nil {
		return nil, err
	}
	return &MQTTRepo{pub: pub, prefix: strings.TrimRight(opts.TopicPrefix, "/")}, nil
}

func (r *MQTTRepo) Topic(e Event) string {
	return fmt.Sprintf("%s/call/%s/%s", r.prefix, e.SessionID, e.Type)
}

func (r *MQTTRepo) Append(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.pub.Publish(ctx, r.Topic(e), payload)
}

func (r *MQTTRepo) Close() error {
	return r.pub.Close()
}

type pahoPublisher struct {
	client mqtt.Client
	qos    byte
}

func newPahoPublisher(opts MQTTOptions) (*pahoPublisher, error) {
	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(60 * time.Second)

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connecting to MQTT broker %s: timed out", opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", opts.Broker, err)
	}
	return &pahoPublisher{client: client, qos: opts.QoS}, nil
}

func (p *pahoPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pahoPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
