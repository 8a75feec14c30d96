package domain

import (
	"time"
)

// OptionsPerQuestion is the fixed number of answer options of a question.
const OptionsPerQuestion = 4

// DefaultTimeLimit is the per-question time limit, in seconds, used when a session is created without one.
const DefaultTimeLimit = 20

// Phase is the stage a quiz session is in.
type Phase string

const (
	PhaseLobby          Phase = "lobby"
	PhaseQuestionActive Phase = "question_active"
	PhaseResults        Phase = "results"
	PhaseFinished       Phase = "finished"
)

// Question is a multiple choice question supplied by the quiz generator. It is never mutated.
type Question struct {
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
}

// Player is a participant of a quiz session, identified by its connection.
type Player struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`

	// Seq is the join order of the player within the session.
	Seq int `json:"-"`
}

// AnswerRecord is the single submission of a player for a question.
type AnswerRecord struct {
	PlayerID    string
	AnswerIndex int
	Correct     bool
	Points      int
	SubmitTime  time.Time
}

// RoleKind tells how a connection participates in a session.
type RoleKind int

const (
	RoleNone RoleKind = iota
	RoleHost
	RolePlayer
)

func (k RoleKind) String() string {
	switch k {
	case RoleHost:
		return "host"
	case RolePlayer:
		return "player"
	default:
		return "none"
	}
}

// Role is the tagged identity of a connection within a session.
type Role struct {
	Kind RoleKind
	// Name is set for RolePlayer only.
	Name string
}

func (r Role) IsHost() bool   { return r.Kind == RoleHost }
func (r Role) IsPlayer() bool { return r.Kind == RolePlayer }

// Leaderboard represents players of a quiz session ranked by score, in descending order.
type Leaderboard struct {
	PIN     string             `json:"pin"`
	Entries []LeaderboardEntry `json:"entries"`
}

type LeaderboardEntry struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}
