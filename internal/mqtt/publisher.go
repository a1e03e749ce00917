package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/drivetune/drivetune/internal/autotune"
	"github.com/drivetune/drivetune/internal/protocol"
	"github.com/drivetune/drivetune/internal/ui"
	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	TopicTelemetry      = "telemetry"
	TopicAutotuneResult = "autotune/result"

	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
	// milliseconds to wait for pending work on disconnect
	disconnectQuiesce = 250
)

var ErrPublishTimeout = errors.New("publish timed out")

type Options struct {
	Broker      string
	ClientId    string
	Username    string
	Password    string
	TopicPrefix string
	Qos         byte
}

// client is the subset of paho.Client used by the Publisher
type client interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Publisher forwards telemetry and autotune results to an MQTT broker
type Publisher struct {
	client  client
	options Options
	now     func() time.Time
}

// ResultPayload is published (retained) whenever an autotune run completes
type ResultPayload struct {
	Timestamp time.Time                `json:"timestamp"`
	Config    autotune.RunConfig       `json:"config"`
	Result    *autotune.AnalysisResult `json:"result"`
}

func NewPublisher(options Options) *Publisher {
	opts := paho.NewClientOptions().
		AddBroker(options.Broker).
		SetClientID(options.ClientId).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOnConnectHandler(func(paho.Client) {
			ui.Info("Connected to MQTT broker %s", options.Broker)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			ui.Warning("Connection to MQTT broker %s lost: %v", options.Broker, err)
		})
	if len(options.Username) > 0 {
		opts.SetUsername(options.Username)
		opts.SetPassword(options.Password)
	}
	return newPublisher(paho.NewClient(opts), options)
}

func newPublisher(c client, options Options) *Publisher {
	return &Publisher{
		client:  c,
		options: options,
		now:     time.Now,
	}
}

// Connect starts connecting to the broker. The client keeps retrying in the background
// if the broker is not reachable within the connect timeout.
func (p *Publisher) Connect() error {
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		ui.Warning("MQTT broker %s not reachable yet, retrying in the background", p.options.Broker)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connecting to MQTT broker %s: %w", p.options.Broker, err)
	}
	return nil
}

func (p *Publisher) Disconnect() {
	p.client.Disconnect(disconnectQuiesce)
}

// Topic prefixes the given topic name with the configured topic prefix
func (p *Publisher) Topic(name string) string {
	prefix := strings.Trim(p.options.TopicPrefix, "/")
	if len(prefix) <= 0 {
		return name
	}
	return prefix + "/" + name
}

// PublishTelemetry forwards a telemetry message without waiting for the broker.
// Messages are dropped while the connection is down.
func (p *Publisher) PublishTelemetry(telemetry protocol.Telemetry) {
	if !p.client.IsConnectionOpen() {
		return
	}
	topic := p.Topic(TopicTelemetry)
	token := p.client.Publish(topic, p.options.Qos, false, telemetry.Encode())
	go func() {
		if token.WaitTimeout(publishTimeout) && token.Error() != nil {
			ui.Debug("Unable to publish to %s: %v", topic, token.Error())
		}
	}()
}

// PublishResult publishes the result of a completed run as retained message
func (p *Publisher) PublishResult(config autotune.RunConfig, result *autotune.AnalysisResult) error {
	payload, err := json.Marshal(ResultPayload{
		Timestamp: p.now(),
		Config:    config,
		Result:    result,
	})
	if err != nil {
		return err
	}

	topic := p.Topic(TopicAutotuneResult)
	token := p.client.Publish(topic, p.options.Qos, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%s: %w", topic, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// OnEvent is an autotune.Listener publishing every completed run
func (p *Publisher) OnEvent(event autotune.Event) {
	if event.Phase != autotune.PhaseCompleted || event.Result == nil {
		return
	}
	go func() {
		if err := p.PublishResult(event.Run.Config, event.Result); err != nil {
			ui.Warning("Unable to publish autotune result: %v", err)
		}
	}()
}
