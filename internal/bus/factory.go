package bus

import (
	"fmt"
	"strings"

	"github.com/MochiXu/hybrid-search-ranx/internal/config"
	"github.com/MochiXu/hybrid-search-ranx/internal/pkg/errors"
	"github.com/MochiXu/hybrid-search-ranx/internal/pkg/logger"
)

// NewBus creates a new Bus instance based on the configuration. When an
// event log path is configured the bus is wrapped in a JournaledBus.
func NewBus(cfg config.BusConfig, log *logger.Logger) (Bus, error) {
	var inner Bus
	switch strings.ToLower(cfg.Type) {
	case "memory", "":
		inner = NewMemoryBus(log)

	case "kafka":
		brokers := ParseKafkaBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, errors.New(errors.CodeValidation, "kafka brokers not configured")
		}

		consumerGroup := cfg.KafkaGroup
		if consumerGroup == "" {
			consumerGroup = "hybrid-ranx"
		}

		kb, err := NewKafkaBus(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: consumerGroup,
			ClientID:      "hybrid-ranx-bus",
		}, log)
		if err != nil {
			return nil, err
		}
		inner = kb

	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown bus type: %s", cfg.Type))
	}

	if cfg.EventLog == "" {
		return inner, nil
	}
	journal, err := OpenJournal(cfg.EventLog)
	if err != nil {
		inner.Close()
		return nil, err
	}
	return NewJournaledBus(inner, journal, log), nil
}
