package game

import "time"

// Listener receives game events in the order the state changes happened.
// Callbacks run without the game lock held, so they may call back into the game.
type Listener interface {
	PieceChanged(current, following Piece)
	LinesCleared(cells []Coordinate)
	CountdownReset(delay time.Duration)
	ScoreChanged(stats Stats)
	LevelUp(level int)
	LifeLost(lives int)
	// GameEnded is delivered once. err is nil for a normal game over or an
	// explicit End, and non-nil when the piece source failed.
	GameEnded(err error)
}

// BaseListener implements Listener with no-ops. Embed it to handle only some events.
type BaseListener struct{}

func (BaseListener) PieceChanged(current, following Piece) {}
func (BaseListener) LinesCleared(cells []Coordinate)       {}
func (BaseListener) CountdownReset(delay time.Duration)    {}
func (BaseListener) ScoreChanged(stats Stats)              {}
func (BaseListener) LevelUp(level int)                     {}
func (BaseListener) LifeLost(lives int)                    {}
func (BaseListener) GameEnded(err error)                   {}

// event is a deferred listener call.
type event func(Listener)
