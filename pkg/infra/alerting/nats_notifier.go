package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
	"github.com/mitchellh/mapstructure"
	"github.com/nats-io/nats.go"
)

const (
	NATSNotifierName   = "nats"
	defaultNATSSubject = "trustguard.alerts"
)

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Subject       string        `mapstructure:"subject"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

type natsPublisher interface {
	PublishMsg(msg *nats.Msg) error
	IsConnected() bool
	Drain() error
}

type natsNotifier struct {
	subject string
	conn    natsPublisher
}

func NewNATSNotifier(settings map[string]interface{}) (Notifier, error) {
	var conf NATSConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     &conf,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("invalid nats config: %w", err)
	}
	if conf.URL == "" {
		return nil, errors.New("nats url is required")
	}
	if conf.Subject == "" {
		conf.Subject = defaultNATSSubject
	}
	if conf.ReconnectWait <= 0 {
		conf.ReconnectWait = time.Second
	}
	nc, err := nats.Connect(conf.URL,
		nats.Name("trustguard-alerting"),
		nats.MaxReconnects(conf.MaxReconnects),
		nats.ReconnectWait(conf.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &natsNotifier{subject: conf.Subject, conn: nc}, nil
}

func (n *natsNotifier) Name() string {
	return NATSNotifierName
}

func (n *natsNotifier) Notify(ctx context.Context, inc *incident.SecurityIncident, priority Priority) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !n.conn.IsConnected() {
		return errors.New("nats connection not available")
	}
	data, err := json.Marshal(NewAlert(inc, priority))
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	headers := nats.Header{}
	headers.Set("x-incident-id", inc.ID)
	headers.Set("x-priority", string(priority))
	headers.Set("x-severity", string(inc.Severity))
	headers.Set("x-threat-score", strconv.Itoa(inc.ThreatScore))

	msg := &nats.Msg{
		Subject: n.subject + "." + string(priority),
		Data:    data,
		Header:  headers,
	}
	if err := n.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

func (n *natsNotifier) Close() {
	if n.conn != nil {
		_ = n.conn.Drain()
	}
}
