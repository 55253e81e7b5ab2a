package multiplayer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"tetrecs/internal/game"
	"tetrecs/internal/protocol"
)

// fakePeer records every line sent to it.
type fakePeer struct {
	mu    sync.Mutex
	lines []string
	err   error
}

func (p *fakePeer) Send(line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lines = append(p.lines, line)
	return p.err
}

func (p *fakePeer) sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.lines...)
}

func (p *fakePeer) count(line string) int {
	n := 0
	for _, l := range p.sent() {
		if l == line {
			n++
		}
	}
	return n
}

type chatRecorder struct {
	mu     sync.Mutex
	chats  []string
	boards [][]protocol.PlayerScore
}

func (c *chatRecorder) MessageReceived(from, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chats = append(c.chats, from+": "+text)
}

func (c *chatRecorder) ScoresChanged(scores []protocol.PlayerScore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boards = append(c.boards, scores)
}

func newTestMatch(t *testing.T, cfg Config) (*Match, *fakePeer) {
	t.Helper()
	peer := &fakePeer{}
	cfg.Logger = zaptest.NewLogger(t).Sugar()
	m, err := New(peer, cfg)
	require.NoError(t, err)
	t.Cleanup(m.End)
	return m, peer
}

func feed(m *Match, ordinals ...int) {
	for _, n := range ordinals {
		m.Receive(protocol.FormatInt(protocol.Piece, n))
	}
}

// --- Piece queue and remote source ---

func TestNewPrefetchesFivePieces(t *testing.T) {
	_, peer := newTestMatch(t, Config{})
	assert.Equal(t, []string{"PIECE", "PIECE", "PIECE", "PIECE", "PIECE"}, peer.sent())
}

func TestNewFailsWhenPeerUnreachable(t *testing.T) {
	peer := &fakePeer{err: errors.New("closed")}
	_, err := New(peer, Config{})
	assert.Error(t, err)
}

func TestRemoteSourceWaitsForPiece(t *testing.T) {
	peer := &fakePeer{}
	q := NewPieceQueue(8, zaptest.NewLogger(t).Sugar())
	src := NewRemoteSource(q, peer, time.Second, 1, nil)

	got := make(chan game.Piece, 1)
	go func() {
		p, err := src.Next(context.Background())
		if err == nil {
			got <- p
		}
	}()

	require.Eventually(t, func() bool { return peer.count("PIECE") == 1 }, time.Second, time.Millisecond)
	select {
	case <-got:
		t.Fatal("resolved before a piece arrived")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(game.MustPiece(7))
	select {
	case p := <-got:
		assert.Equal(t, 7, p.Ordinal())
	case <-time.After(time.Second):
		t.Fatal("piece never delivered")
	}
}

func TestRemoteSourceConcurrentRequests(t *testing.T) {
	peer := &fakePeer{}
	q := NewPieceQueue(8, nil)
	src := NewRemoteSource(q, peer, 2*time.Second, 1, nil)

	results := make(chan int, 2)
	for i := 0; i < 2; i++ {
		go func() {
			p, err := src.Next(context.Background())
			if err != nil {
				results <- -1
				return
			}
			results <- p.Ordinal()
		}()
	}
	require.Eventually(t, func() bool { return peer.count("PIECE") == 2 }, time.Second, time.Millisecond)
	q.Push(game.MustPiece(1))
	q.Push(game.MustPiece(2))

	seen := map[int]bool{}
	for i := 0; i < 2; i++ {
		select {
		case n := <-results:
			seen[n] = true
		case <-time.After(time.Second):
			t.Fatal("concurrent request deadlocked")
		}
	}
	assert.Equal(t, map[int]bool{1: true, 2: true}, seen)
}

func TestRemoteSourceRerequestsThenGivesUp(t *testing.T) {
	peer := &fakePeer{}
	src := NewRemoteSource(NewPieceQueue(8, nil), peer, 10*time.Millisecond, 3, zaptest.NewLogger(t).Sugar())

	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, ErrPieceTimeout)
	assert.Equal(t, 3, peer.count("PIECE"))
}

func TestRemoteSourceCancelled(t *testing.T) {
	src := NewRemoteSource(NewPieceQueue(8, nil), &fakePeer{}, time.Minute, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPieceQueueDropsWhenFull(t *testing.T) {
	q := NewPieceQueue(2, zaptest.NewLogger(t).Sugar())
	assert.True(t, q.Push(game.MustPiece(0)))
	assert.True(t, q.Push(game.MustPiece(1)))
	assert.False(t, q.Push(game.MustPiece(2)))
	assert.Equal(t, 2, q.Len())

	p, err := q.Pop(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Ordinal(), "queue is FIFO")
}

// --- Inbound dispatch ---

func TestReceiveQueuesPieces(t *testing.T) {
	m, _ := newTestMatch(t, Config{})
	feed(m, 3, 14, 0)
	assert.Equal(t, 3, m.QueuedPieces())
}

func TestReceiveDropsMalformed(t *testing.T) {
	m, _ := newTestMatch(t, Config{})
	rec := &chatRecorder{}
	m.AddListener(rec)
	m.Receive("SCORES alice:1:3")

	for _, line := range []string{"", "PIECE", "PIECE x", "PIECE 15", "PIECE -1", "lower case", "MSG nocolon", "SCORES alice:1"} {
		m.Receive(line)
	}
	assert.Zero(t, m.QueuedPieces(), "out of range ordinals must not be wrapped")
	assert.Empty(t, rec.chats)
	assert.Equal(t, []protocol.PlayerScore{{Name: "alice", Score: 1, Lives: "3"}}, m.Scores())
	assert.Len(t, rec.boards, 1)
}

func TestReceiveScoresReplacesSnapshot(t *testing.T) {
	m, _ := newTestMatch(t, Config{})
	rec := &chatRecorder{}
	m.AddListener(rec)

	m.Receive("SCORES alice:100:3\nbob:50:2")
	require.Len(t, m.Scores(), 2)

	m.Receive("SCORES bob:80:DEAD")
	assert.Equal(t, []protocol.PlayerScore{{Name: "bob", Score: 80, Lives: protocol.Dead}}, m.Scores())
	assert.Len(t, rec.boards, 2)
}

func TestReceiveChat(t *testing.T) {
	m, _ := newTestMatch(t, Config{})
	rec := &chatRecorder{}
	m.AddListener(rec)
	m.Receive("MSG alice:good luck")
	m.Receive("HOST") // not a game message, ignored
	assert.Equal(t, []string{"alice: good luck"}, rec.chats)
}

func TestRunStopsWhenInboundCloses(t *testing.T) {
	m, _ := newTestMatch(t, Config{})
	in := make(chan string, 2)
	in <- "PIECE 1"
	in <- "PIECE 2"
	close(in)
	require.NoError(t, m.Run(context.Background(), in))
	assert.Equal(t, 2, m.QueuedPieces())
}

// --- Outbound reporting ---

func TestStartTakesPiecesFromPeer(t *testing.T) {
	m, peer := newTestMatch(t, Config{})
	feed(m, 3, 4)
	require.NoError(t, m.Start(context.Background()))

	assert.Equal(t, 3, m.Game().CurrentPiece().Ordinal())
	assert.Equal(t, 4, m.Game().FollowingPiece().Ordinal())
	assert.Equal(t, 7, peer.count("PIECE"), "five prefetched plus one per piece taken")
}

func TestStartWaitsForPeer(t *testing.T) {
	m, _ := newTestMatch(t, Config{})
	in := make(chan string)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx, in)

	done := make(chan error, 1)
	go func() { done <- m.Start(context.Background()) }()

	in <- "PIECE 5"
	select {
	case <-done:
		t.Fatal("started with one piece")
	case <-time.After(20 * time.Millisecond):
	}
	in <- "PIECE 6"
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("start never completed")
	}
	assert.Equal(t, 5, m.Game().CurrentPiece().Ordinal())
}

func TestStatsReadableWhilePieceOutstanding(t *testing.T) {
	m, peer := newTestMatch(t, Config{PieceTimeout: 5 * time.Second, PieceAttempts: 1})
	feed(m, 3, 4)
	require.NoError(t, m.Start(context.Background()))
	g := m.Game()

	clicked := make(chan bool, 1)
	go func() {
		placed, _ := g.BlockClicked(2, 2)
		clicked <- placed
	}()
	// five prefetched, two taken by Start, one for the placement
	require.Eventually(t, func() bool { return peer.count("PIECE") == 8 }, time.Second, time.Millisecond)

	stats := make(chan game.Stats, 1)
	go func() { stats <- g.Stats() }()
	select {
	case s := <-stats:
		assert.Equal(t, game.StateRunning, s.State)
		assert.Equal(t, 3, s.Lives)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Stats blocked while waiting for a remote piece")
	}
	assert.Equal(t, 4, g.FollowingPiece().Ordinal())

	feed(m, 5)
	select {
	case placed := <-clicked:
		assert.True(t, placed)
	case <-time.After(time.Second):
		t.Fatal("placement never completed")
	}
	assert.Equal(t, 4, g.CurrentPiece().Ordinal())
	assert.Equal(t, 5, g.FollowingPiece().Ordinal())
}

func TestScoreSentWhenScoreChanges(t *testing.T) {
	m, peer := newTestMatch(t, Config{})
	feed(m, 0, 3, 3, 3, 3, 3)
	require.NoError(t, m.Start(context.Background()))
	g := m.Game()

	placed, err := g.BlockClicked(1, 0) // line over (0,0)..(2,0)
	require.NoError(t, err)
	require.True(t, placed)
	_, err = g.BlockClicked(3, 0)
	require.NoError(t, err)
	assert.Zero(t, peer.count("SCORE 0"), "unchanged score is not sent")

	_, err = g.BlockClicked(4, 0) // completes the row
	require.NoError(t, err)
	assert.Equal(t, 50, g.Stats().Score)
	assert.Equal(t, 1, peer.count("SCORE 50"))
}

func TestLifeLostSendsLives(t *testing.T) {
	m, peer := newTestMatch(t, Config{})
	r := &reporter{m: m}
	r.LifeLost(2)
	assert.Equal(t, 1, peer.count("LIVES 2"))
}

func TestEndSendsDieOnceAndStopsPolling(t *testing.T) {
	m, peer := newTestMatch(t, Config{ScoresDelay: time.Millisecond, ScoresInterval: 5 * time.Millisecond})
	feed(m, 1, 2)
	require.NoError(t, m.Start(context.Background()))

	require.Eventually(t, func() bool { return peer.count("SCORES") >= 2 }, time.Second, time.Millisecond)
	m.End()
	m.End()

	lines := peer.sent()
	require.Equal(t, "DIE", lines[len(lines)-1])
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, lines, peer.sent(), "nothing sent after DIE")
	assert.Equal(t, 1, peer.count("DIE"))
	assert.Equal(t, game.StateEnded, m.Game().Stats().State)
}

func TestGameOverSendsDie(t *testing.T) {
	m, peer := newTestMatch(t, Config{})
	feed(m, 1, 2)
	require.NoError(t, m.Start(context.Background()))

	m.Game().End() // ended from the game side, as when lives run out
	assert.Equal(t, 1, peer.count("DIE"))
	m.End()
	assert.Equal(t, 1, peer.count("DIE"))
}

func TestSendMessage(t *testing.T) {
	m, peer := newTestMatch(t, Config{})
	require.NoError(t, m.SendMessage("hello all"))
	assert.Equal(t, 1, peer.count("MSG hello all"))
}
