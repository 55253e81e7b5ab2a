// Package protocol implements the tagged text lines exchanged between game
// clients and the relay server. Every message is a tag optionally followed by
// a single space and a body; bodies may span several lines.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed wraps every parse failure.
var ErrMalformed = errors.New("malformed message")

// Message tags.
const (
	// Client to server.
	List     = "LIST"
	Create   = "CREATE"
	Join     = "JOIN"
	Part     = "PART"
	Nick     = "NICK"
	Users    = "USERS"
	Start    = "START"
	Msg      = "MSG"
	Piece    = "PIECE"
	Score    = "SCORE"
	Lives    = "LIVES"
	Die      = "DIE"
	Scores   = "SCORES"
	HiScores = "HISCORES"
	HiScore  = "HISCORE"
	Quit     = "QUIT"

	// Server to client only.
	Channels = "CHANNELS"
	Host     = "HOST"
	Parted   = "PARTED"
	NewScore = "NEWSCORE"
	Error    = "ERROR"
)

// Dead is the lives marker of a player who has left the game.
const Dead = "DEAD"

// Message is one decoded line.
type Message struct {
	Tag  string
	Body string
}

func (m Message) String() string {
	return Format(m.Tag, m.Body)
}

// Parse splits a line into tag and body. Trailing line breaks are dropped.
func Parse(line string) (Message, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return Message{}, fmt.Errorf("%w: empty line", ErrMalformed)
	}
	tag, body, _ := strings.Cut(line, " ")
	if tag == "" || strings.ToUpper(tag) != tag {
		return Message{}, fmt.Errorf("%w: bad tag %q", ErrMalformed, tag)
	}
	return Message{Tag: tag, Body: body}, nil
}

// Format builds a line from a tag and an optional body.
func Format(tag, body string) string {
	if body == "" {
		return tag
	}
	return tag + " " + body
}

// FormatInt builds a line carrying one integer, e.g. "SCORE 120".
func FormatInt(tag string, n int) string {
	return Format(tag, strconv.Itoa(n))
}

// ParseInt reads a single integer body.
func ParseInt(body string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(body))
	if err != nil {
		return 0, fmt.Errorf("%w: integer %q", ErrMalformed, body)
	}
	return n, nil
}

// ParsePiece reads the ordinal of a PIECE body. Range checking is left to
// the piece catalog.
func ParsePiece(body string) (int, error) {
	return ParseInt(body)
}

// PlayerScore is one row of a channel scoreboard. Lives is a count or Dead.
type PlayerScore struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
	Lives string `json:"lives"`
}

// IsDead reports whether the player has left the game.
func (p PlayerScore) IsDead() bool { return p.Lives == Dead }

// ParseScores reads a SCORES body: newline separated name:score:lives records.
func ParseScores(body string) ([]PlayerScore, error) {
	var out []PlayerScore
	for _, line := range splitLines(body) {
		parts := strings.Split(line, ":")
		if len(parts) != 3 || parts[0] == "" {
			return nil, fmt.Errorf("%w: score record %q", ErrMalformed, line)
		}
		score, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("%w: score in %q", ErrMalformed, line)
		}
		lives := parts[2]
		if lives != Dead {
			if _, err := strconv.Atoi(lives); err != nil {
				return nil, fmt.Errorf("%w: lives in %q", ErrMalformed, line)
			}
		}
		out = append(out, PlayerScore{Name: parts[0], Score: score, Lives: lives})
	}
	return out, nil
}

// FormatScores is the inverse of ParseScores.
func FormatScores(scores []PlayerScore) string {
	lines := make([]string, len(scores))
	for i, s := range scores {
		lines[i] = s.Name + ":" + strconv.Itoa(s.Score) + ":" + s.Lives
	}
	return strings.Join(lines, "\n")
}

// NameScore is a high score entry.
type NameScore struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// ParseNameScore reads a single name:score pair.
func ParseNameScore(s string) (NameScore, error) {
	name, score, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || name == "" {
		return NameScore{}, fmt.Errorf("%w: high score %q", ErrMalformed, s)
	}
	n, err := strconv.Atoi(score)
	if err != nil {
		return NameScore{}, fmt.Errorf("%w: high score %q", ErrMalformed, s)
	}
	return NameScore{Name: name, Score: n}, nil
}

// ParseHiScores reads newline separated name:score pairs.
func ParseHiScores(body string) ([]NameScore, error) {
	var out []NameScore
	for _, line := range splitLines(body) {
		ns, err := ParseNameScore(line)
		if err != nil {
			return nil, err
		}
		out = append(out, ns)
	}
	return out, nil
}

func FormatHiScores(scores []NameScore) string {
	lines := make([]string, len(scores))
	for i, s := range scores {
		lines[i] = s.Name + ":" + strconv.Itoa(s.Score)
	}
	return strings.Join(lines, "\n")
}

// ParseChat splits a relayed MSG body into sender and text.
func ParseChat(body string) (from, text string, err error) {
	from, text, ok := strings.Cut(body, ":")
	if !ok {
		return "", "", fmt.Errorf("%w: chat %q", ErrMalformed, body)
	}
	return from, text, nil
}

// ParseList reads a newline separated list, such as CHANNELS or USERS.
func ParseList(body string) []string {
	return splitLines(body)
}

func splitLines(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
