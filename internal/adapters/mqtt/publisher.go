// Package mqtt announces the newest imported day to Home Assistant over
// MQTT: two discovery configs and a retained state message.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/okian/meterbridge/internal/domain/model"
	"github.com/okian/meterbridge/pkg/logger"
	"github.com/okian/meterbridge/pkg/metrics"
)

const (
	defaultClientID        = "meterbridge"
	defaultDiscoveryPrefix = "homeassistant"
	defaultNodeID          = "tampereen_energia"
	defaultDeviceName      = "Tampereen Energia"
	defaultTimeout         = 10 * time.Second
	disconnectQuiesce      = 250 // ms
)

// Conn is the part of a paho client the publisher uses.
type Conn interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Publisher connects per call, publishes retained messages and disconnects.
type Publisher struct {
	broker          string
	username        string
	password        string
	clientID        string
	discoveryPrefix string
	nodeID          string
	meteringPoint   string
	deviceName      string
	timeout         time.Duration
	loc             *time.Location
	clock           model.Clock
	conn            Conn
	logger          logger.Logger
}

// NewPublisher creates a Publisher for broker, e.g. "tcp://localhost:1883".
func NewPublisher(broker string, opts ...Option) *Publisher {
	p := &Publisher{
		broker:          broker,
		clientID:        defaultClientID,
		discoveryPrefix: defaultDiscoveryPrefix,
		nodeID:          defaultNodeID,
		deviceName:      defaultDeviceName,
		timeout:         defaultTimeout,
		loc:             time.UTC,
		clock:           model.SystemClock{},
		logger:          logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.conn == nil {
		o := paho.NewClientOptions().
			AddBroker(p.broker).
			SetClientID(p.clientID).
			SetUsername(p.username).
			SetPassword(p.password).
			SetConnectTimeout(p.timeout).
			SetAutoReconnect(false)
		p.conn = paho.NewClient(o)
	}
	return p
}

// StateTopic is where the retained day summary goes.
func (p *Publisher) StateTopic() string { return p.nodeID + "/state" }

func (p *Publisher) configTopic(object string) string {
	return p.discoveryPrefix + "/sensor/" + p.nodeID + "/" + object + "/config"
}

// PublishDay publishes the discovery configs and the state of day d.
func (p *Publisher) PublishDay(ctx context.Context, d model.Day, readings []model.Reading) (err error) {
	defer func() { metrics.RecordPublish(err) }()

	st := NewState(d, readings, p.loc, p.clock.Now())
	if len(st.HourlyData) == 0 {
		return fmt.Errorf("%w: %s", ErrNoData, d)
	}

	if err := p.wait(ctx, p.conn.Connect()); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnect, p.broker, err)
	}
	defer p.conn.Disconnect(disconnectQuiesce)

	configs := p.discovery()
	for _, topic := range slices.Sorted(maps.Keys(configs)) {
		if err := p.publish(ctx, topic, configs[topic]); err != nil {
			return err
		}
	}
	if err := p.publish(ctx, p.StateTopic(), st); err != nil {
		return err
	}

	p.logger.Info(ctx, "published day summary",
		logger.String("day", st.Date),
		logger.Float64("total_kwh", st.TotalKWh),
		logger.Int("hours", len(st.HourlyData)))
	return nil
}

func (p *Publisher) publish(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublish, topic, err)
	}
	if err := p.wait(ctx, p.conn.Publish(topic, 0, true, payload)); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublish, topic, err)
	}
	return nil
}

func (p *Publisher) wait(ctx context.Context, t paho.Token) error {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}
