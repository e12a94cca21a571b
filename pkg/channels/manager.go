package channels

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/entrhq/toolbelt/pkg/bus"
	"github.com/entrhq/toolbelt/pkg/config"
	"github.com/entrhq/toolbelt/pkg/logging"
)

// Manager owns the enabled channels and subscribes each to its outbound
// messages.
type Manager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
	logger   *logging.Logger
}

// ManagerOptions configures NewManager.
type ManagerOptions struct {
	ConsoleOut io.Writer
	ConsoleIn  io.Reader
	BotFactory BotFactory
	Logger     *logging.Logger
}

// NewManager creates the console channel and every channel enabled in cfg.
func NewManager(cfg config.ChannelsConfig, b *bus.MessageBus, opts ManagerOptions) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	m := &Manager{
		channels: make(map[string]Channel),
		bus:      b,
		logger:   logger,
	}

	if opts.ConsoleOut != nil {
		chatID := ""
		if cfg.DefaultChannel == ConsoleName {
			chatID = cfg.DefaultChatID
		}
		m.Add(NewConsoleChannel(b, opts.ConsoleOut, opts.ConsoleIn, chatID, logger))
	}

	if cfg.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Telegram, b, opts.BotFactory, logger)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		m.Add(ch)
	}

	return m, nil
}

// Add registers ch and subscribes it to outbound messages.
func (m *Manager) Add(ch Channel) {
	m.channels[ch.Name()] = ch
	m.bus.SubscribeOutbound(ch.Name(), func(msg bus.OutboundMessage) {
		if err := ch.Send(msg); err != nil {
			m.logger.Errorf("send to %s failed: %v", ch.Name(), err)
		}
	})
}

// StartAll starts every channel. The first failure stops the rest.
func (m *Manager) StartAll(ctx context.Context) error {
	for _, name := range m.Names() {
		m.logger.Infof("starting channel %s", name)
		if err := m.channels[name].Start(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// StopAll stops every channel, logging failures.
func (m *Manager) StopAll() {
	for _, name := range m.Names() {
		if err := m.channels[name].Stop(); err != nil {
			m.logger.Warnf("error stopping %s: %v", name, err)
		}
	}
}

// Names lists the enabled channels, sorted.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
