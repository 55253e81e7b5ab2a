package lobby

import (
	"errors"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"tetrecs/internal/game"
	"tetrecs/internal/protocol"
	"tetrecs/internal/storage"
)

var (
	ErrInvalidName     = errors.New("invalid name")
	ErrChannelExists   = errors.New("channel already exists")
	ErrChannelNotFound = errors.New("channel not found")
	ErrNickTaken       = errors.New("nickname already in use")
	ErrNotWaiting      = errors.New("channel is not accepting players")
	ErrNotPlaying      = errors.New("game not in progress")
	ErrNotHost         = errors.New("only the host can start")
	ErrNotMember       = errors.New("not in channel")
)

// Status represents the channel lifecycle.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// SendBuffer is the number of outbound lines queued per player.
const SendBuffer = 64

// ValidName reports whether s can be used as a nickname or channel name.
// Names travel inside colon and newline separated bodies.
func ValidName(s string) bool {
	return s != "" && len(s) <= 32 && !strings.ContainsAny(s, ":\r\n")
}

// Player is a member of a channel.
type Player struct {
	ID   string
	Nick string
	Send chan string // outbound lines, owned by the connection

	score int
	lives string
	next  int // index of the next piece in the channel sequence
}

// Channel is one lobby room. Once started, every player draws from the same
// seeded piece sequence, each at their own pace.
type Channel struct {
	mu        sync.RWMutex
	Name      string
	Status    Status
	HostID    string
	CreatedAt time.Time

	seed     uint64
	players  map[string]*Player
	order    []string // join order
	rng      *rand.Rand
	sequence []int
}

// NewChannel creates a channel in the waiting state.
func NewChannel(name string, seed uint64) *Channel {
	return &Channel{
		Name:      name,
		Status:    StatusWaiting,
		CreatedAt: time.Now(),
		seed:      seed,
		players:   make(map[string]*Player),
		rng:       rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

// Seed returns the seed of the channel's piece sequence.
func (c *Channel) Seed() uint64 { return c.seed }

// AddPlayer adds a player to the channel. The first player becomes host.
// Lines for the player are queued on send; a nil send gets a fresh buffer.
func (c *Channel) AddPlayer(id, nick string, send chan string) (*Player, error) {
	if !ValidName(nick) {
		return nil, ErrInvalidName
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Status != StatusWaiting {
		return nil, ErrNotWaiting
	}
	if _, exists := c.players[id]; exists {
		return nil, errors.New("player " + id + " already in channel")
	}
	if c.nickTakenLocked(nick) {
		return nil, ErrNickTaken
	}
	if send == nil {
		send = make(chan string, SendBuffer)
	}
	p := &Player{
		ID:    id,
		Nick:  nick,
		Send:  send,
		lives: strconv.Itoa(game.DefaultLives),
	}
	c.players[id] = p
	c.order = append(c.order, id)
	if c.HostID == "" {
		c.HostID = id
	}
	return p, nil
}

// RemovePlayer removes a player. Its send channel is left open. The host role
// passes to the longest-standing remaining player. newHost is empty when the
// host did not change.
func (c *Channel) RemovePlayer(id string) (newHost string, finished bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.players[id]; !ok {
		return "", false
	}
	delete(c.players, id)
	for i, pid := range c.order {
		if pid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if c.HostID == id {
		c.HostID = ""
		if len(c.order) > 0 {
			c.HostID = c.order[0]
			newHost = c.HostID
		}
	}
	if c.Status == StatusPlaying && c.allDeadLocked() {
		c.Status = StatusFinished
		finished = true
	}
	return newHost, finished
}

// Start moves the channel from waiting to playing. Only the host may start.
func (c *Channel) Start(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.players[id]; !ok {
		return ErrNotMember
	}
	if c.HostID != id {
		return ErrNotHost
	}
	if c.Status != StatusWaiting {
		return ErrNotWaiting
	}
	c.Status = StatusPlaying
	return nil
}

// NextPiece returns the ordinal of the player's next piece. The n-th call by
// any player returns the same ordinal.
func (c *Channel) NextPiece(id string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.players[id]
	if !ok {
		return 0, ErrNotMember
	}
	if c.Status != StatusPlaying {
		return 0, ErrNotPlaying
	}
	for len(c.sequence) <= p.next {
		c.sequence = append(c.sequence, c.rng.IntN(game.PieceCount))
	}
	n := c.sequence[p.next]
	p.next++
	return n, nil
}

// ReturnPiece undoes the player's last NextPiece, so a piece that never
// reached the player is handed out again.
func (c *Channel) ReturnPiece(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.players[id]; ok && p.next > 0 {
		p.next--
	}
}

// SetScore records a player's reported score.
func (c *Channel) SetScore(id string, score int) error {
	return c.update(id, func(p *Player) { p.score = score })
}

// SetLives records a player's reported lives.
func (c *Channel) SetLives(id string, lives int) error {
	return c.update(id, func(p *Player) {
		if p.lives != protocol.Dead {
			p.lives = strconv.Itoa(lives)
		}
	})
}

func (c *Channel) update(id string, fn func(*Player)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.players[id]
	if !ok {
		return ErrNotMember
	}
	if c.Status != StatusPlaying {
		return ErrNotPlaying
	}
	fn(p)
	return nil
}

// Die marks the player dead. finished is true when this was the last
// player still alive.
func (c *Channel) Die(id string) (finished bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.players[id]
	if !ok {
		return false, ErrNotMember
	}
	if c.Status != StatusPlaying {
		return false, ErrNotPlaying
	}
	p.lives = protocol.Dead
	if c.allDeadLocked() {
		c.Status = StatusFinished
		return true, nil
	}
	return false, nil
}

func (c *Channel) allDeadLocked() bool {
	for _, p := range c.players {
		if p.lives != protocol.Dead {
			return false
		}
	}
	return true
}

// Rename changes a player's nickname.
func (c *Channel) Rename(id, nick string) error {
	if !ValidName(nick) {
		return ErrInvalidName
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.players[id]
	if !ok {
		return ErrNotMember
	}
	if p.Nick == nick {
		return nil
	}
	if c.nickTakenLocked(nick) {
		return ErrNickTaken
	}
	p.Nick = nick
	return nil
}

func (c *Channel) nickTakenLocked(nick string) bool {
	for _, p := range c.players {
		if p.Nick == nick {
			return true
		}
	}
	return false
}

// Users returns the nicknames in join order.
func (c *Channel) Users() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	nicks := make([]string, 0, len(c.order))
	for _, id := range c.order {
		nicks = append(nicks, c.players[id].Nick)
	}
	return nicks
}

// Scores returns the scoreboard, highest score first. Ties keep join order.
func (c *Channel) Scores() []protocol.PlayerScore {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scoresLocked()
}

func (c *Channel) scoresLocked() []protocol.PlayerScore {
	out := make([]protocol.PlayerScore, 0, len(c.order))
	for _, id := range c.order {
		p := c.players[id]
		out = append(out, protocol.PlayerScore{Name: p.Nick, Score: p.score, Lives: p.lives})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Results ranks the players for persistence. Equal scores share a rank.
func (c *Channel) Results() []storage.ResultRow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	scores := c.scoresLocked()
	rows := make([]storage.ResultRow, len(scores))
	for i, s := range scores {
		rank := i + 1
		if i > 0 && s.Score == scores[i-1].Score {
			rank = rows[i-1].Rank
		}
		rows[i] = storage.ResultRow{Channel: c.Name, Player: s.Name, Score: s.Score, Rank: rank}
	}
	return rows
}

// Nick returns a player's nickname.
func (c *Channel) Nick(id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.players[id]
	if !ok {
		return "", false
	}
	return p.Nick, true
}

// IsHost reports whether id is the channel host.
func (c *Channel) IsHost(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.HostID == id
}

// Len returns the number of players.
func (c *Channel) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.players)
}

// CurrentStatus returns the channel status.
func (c *Channel) CurrentStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Status
}

// Send queues a line for one player. It reports false when the player is
// gone or its buffer is full.
func (c *Channel) Send(id, line string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.players[id]
	if !ok {
		return false
	}
	return trySend(p.Send, line)
}

// Broadcast queues a line for every player.
func (c *Channel) Broadcast(line string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.players {
		trySend(p.Send, line)
	}
}

func trySend(ch chan string, line string) bool {
	select {
	case ch <- line:
		return true
	default:
		// drop message if buffer full
		return false
	}
}

// Info returns channel info for the API.
type Info struct {
	Name    string   `json:"name"`
	Status  Status   `json:"status"`
	Host    string   `json:"host"`
	Players []string `json:"players"`
}

func (c *Channel) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info := Info{Name: c.Name, Status: c.Status, Players: make([]string, 0, len(c.order))}
	for _, id := range c.order {
		info.Players = append(info.Players, c.players[id].Nick)
	}
	if h, ok := c.players[c.HostID]; ok {
		info.Host = h.Nick
	}
	return info
}
