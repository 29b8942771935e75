package feed

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const mqttTransport = "mqtt"

type MQTTConfig struct {
	URL   string
	Topic string

	// What the topic carries. Mixed topics use KindEnvelope.
	Kind Kind
}

type MQTTSubscriber struct {
	client mqtt.Client
}

// Connects and subscribes, resubscribing on every reconnect.
func NewMQTTSubscriber(ctx context.Context, cfg MQTTConfig, d *Dispatcher) (*MQTTSubscriber, error) {
	logger := d.Logger
	setConnected := func(connected bool) {
		if d.Metrics != nil {
			d.Metrics.SetConnected(mqttTransport, connected)
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID("activetrains-" + uuid.New().String())
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.OnConnect = func(client mqtt.Client) {
		setConnected(true)
		token := client.Subscribe(cfg.Topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			_ = d.Dispatch(ctx, mqttTransport, cfg.Kind, msg.Payload())
		})
		token.Wait()
		if token.Error() != nil {
			logger.Error("mqtt subscribe failed", "topic", cfg.Topic, "error", token.Error())
			return
		}
		logger.Info("mqtt subscribed", "topic", cfg.Topic)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if token.Error() != nil {
		return nil, fmt.Errorf("connecting to mqtt: %w", token.Error())
	}

	s := &MQTTSubscriber{client: client}
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	return s, nil
}

func (s *MQTTSubscriber) Close() {
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}
