package alerting

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// ChannelConfig is one configured alert destination.
type ChannelConfig struct {
	Name     string                 `mapstructure:"name"`
	Settings map[string]interface{} `mapstructure:"settings"`
}

type constructor func(settings map[string]interface{}) (Notifier, error)

type Factory struct {
	logger       *logrus.Logger
	constructors map[string]constructor
}

func NewFactory(logger *logrus.Logger) *Factory {
	return &Factory{
		logger: logger,
		constructors: map[string]constructor{
			LogNotifierName: func(map[string]interface{}) (Notifier, error) {
				return NewLogNotifier(logger), nil
			},
			KafkaNotifierName: NewKafkaNotifier,
			NATSNotifierName:  NewNATSNotifier,
		},
	}
}

// Build creates the notifier for every channel. With no channels configured alerts go to the log.
func (f *Factory) Build(channels []ChannelConfig) (Notifier, error) {
	if len(channels) == 0 {
		return NewLogNotifier(f.logger), nil
	}
	notifiers := make([]Notifier, 0, len(channels))
	for _, ch := range channels {
		build, ok := f.constructors[ch.Name]
		if !ok {
			closeAll(notifiers)
			return nil, fmt.Errorf("unknown alerting channel %q", ch.Name)
		}
		n, err := build(ch.Settings)
		if err != nil {
			closeAll(notifiers)
			return nil, fmt.Errorf("alerting channel %s: %w", ch.Name, err)
		}
		f.logger.WithField("channel", ch.Name).Info("alerting channel configured")
		notifiers = append(notifiers, n)
	}
	if len(notifiers) == 1 {
		return notifiers[0], nil
	}
	return NewMultiNotifier(notifiers...), nil
}

func closeAll(notifiers []Notifier) {
	for _, n := range notifiers {
		n.Close()
	}
}
