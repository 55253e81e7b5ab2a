// Package lobby tracks the channels players gather in before and during a
// multiplayer game.
package lobby

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tetrecs/internal/storage"
)

// Manager manages all open channels.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	store    *storage.Store
	log      *zap.SugaredLogger
}

// NewManager creates a channel manager.
func NewManager(store *storage.Store, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{
		channels: make(map[string]*Channel),
		store:    store,
		log:      log,
	}
}

// Create makes a new channel and persists it.
func (m *Manager) Create(name string) (*Channel, error) {
	if !ValidName(name) {
		return nil, ErrInvalidName
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.channels[name]; exists {
		return nil, ErrChannelExists
	}
	seed := newSeed()
	// A finished channel of the same name may still have a row.
	if err := m.store.DeleteChannel(name); err != nil {
		m.log.Warnw("delete stale channel", "channel", name, "error", err)
	}
	if err := m.store.CreateChannel(name, int64(seed)); err != nil {
		return nil, fmt.Errorf("persist channel: %w", err)
	}
	c := NewChannel(name, seed)
	m.channels[name] = c
	m.log.Infow("channel created", "channel", name)
	return c, nil
}

// Get returns a channel by name.
func (m *Manager) Get(name string) (*Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.channels[name]
	return c, ok
}

// Names returns the names of all open channels, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns info for all open channels, sorted by name.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	infos := make([]Info, 0, len(m.channels))
	for _, c := range m.channels {
		infos = append(infos, c.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Start starts the channel's game on behalf of player id.
func (m *Manager) Start(c *Channel, id string) error {
	if err := c.Start(id); err != nil {
		return err
	}
	if err := m.store.UpdateChannelStatus(c.Name, string(StatusPlaying)); err != nil {
		m.log.Warnw("persist channel status", "channel", c.Name, "error", err)
	}
	return nil
}

// Die marks a player dead and records the results once nobody is left.
func (m *Manager) Die(c *Channel, id string) (finished bool, err error) {
	finished, err = c.Die(id)
	if err != nil {
		return false, err
	}
	if finished {
		m.finish(c)
	}
	return finished, nil
}

// Leave removes a player. Empty channels are closed. newHost is the id of
// the player who took over as host, if any.
func (m *Manager) Leave(c *Channel, id string) (newHost string) {
	newHost, finished := c.RemovePlayer(id)
	if finished {
		m.finish(c)
	}
	if c.Len() == 0 {
		m.Remove(c.Name)
	}
	return newHost
}

func (m *Manager) finish(c *Channel) {
	results := c.Results()
	m.log.Infow("channel finished", "channel", c.Name, "players", len(results))
	if err := m.store.SaveResults(results); err != nil {
		m.log.Warnw("persist results", "channel", c.Name, "error", err)
	}
	if err := m.store.UpdateChannelStatus(c.Name, string(StatusFinished)); err != nil {
		m.log.Warnw("persist channel status", "channel", c.Name, "error", err)
	}
}

// Remove closes a channel. Its stored row and results are kept until cleanup.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	delete(m.channels, name)
	m.mu.Unlock()
	m.log.Infow("channel closed", "channel", name)
}

// CleanupLoop removes stale channels periodically until ctx is done.
func (m *Manager) CleanupLoop(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cleanup(maxAge)
		}
	}
}

// cleanup closes empty channels and finished ones older than maxAge, then
// deletes stored channels older than maxAge that are no longer open.
func (m *Manager) cleanup(maxAge time.Duration) {
	now := time.Now()
	m.mu.Lock()
	for name, c := range m.channels {
		c.mu.RLock()
		empty := len(c.players) == 0
		stale := c.Status == StatusFinished && now.Sub(c.CreatedAt) > maxAge
		c.mu.RUnlock()
		if empty || stale {
			m.log.Infow("cleaning up channel", "channel", name)
			delete(m.channels, name)
		}
	}
	m.mu.Unlock()

	rows, err := m.store.ListChannels("")
	if err != nil {
		m.log.Warnw("list channels", "error", err)
		return
	}
	for _, row := range rows {
		if _, open := m.Get(row.Name); open || now.Sub(row.CreatedAt) <= maxAge {
			continue
		}
		if err := m.store.DeleteChannel(row.Name); err != nil {
			m.log.Warnw("delete channel", "channel", row.Name, "error", err)
		}
	}
}

func newSeed() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}
