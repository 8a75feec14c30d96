// Package wire defines the JSON messages exchanged with quiz clients over websocket.
//
// Every frame, in both directions, is an envelope {"event": <name>, "data": <payload>}.
package wire

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/victornm/livequiz/internal/domain"
)

// Inbound event names.
const (
	EventHostJoin     = "host_join"
	EventPlayerJoin   = "player_join"
	EventStartGame    = "start_game"
	EventNextQuestion = "next_question"
	EventSubmitAnswer = "submit_answer"
	EventShowResults  = "show_results"
)

// Outbound event names.
const (
	EventHostSuccess        = "host_success"
	EventPlayerJoined       = "player_joined"
	EventJoinSuccess        = "join_success"
	EventNewQuestion        = "new_question"
	EventAnswerResult       = "answer_result"
	EventUpdateAnswersCount = "update_answers_count"
	EventQuestionResults    = "question_results"
	EventGameOver           = "game_over"
	EventError              = "error"
)

// Inbound is a client frame, Data is decoded according to Event.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Outbound is a server frame.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func Encode(m Outbound) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %s: %w", m.Event, err)
	}
	return b, nil
}

func Decode(b []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(b, &in); err != nil {
		return Inbound{}, fmt.Errorf("wire: unmarshal frame: %w", err)
	}
	if in.Event == "" {
		return Inbound{}, fmt.Errorf("wire: frame without event")
	}
	return in, nil
}

// PINRequest is the payload of host_join, start_game, next_question and show_results.
type PINRequest struct {
	PIN string `json:"pin"`
}

type PlayerJoinRequest struct {
	PIN  string `json:"pin"`
	Name string `json:"name"`
}

// NoAnswer is the AnswerIndex of a submission whose answerIndex is missing or not an integer.
// It matches no option: the answer counts as wrong and stays out of the stats.
const NoAnswer = -1

type SubmitAnswerRequest struct {
	PIN         string  `json:"pin"`
	AnswerIndex int     `json:"answerIndex"`
	TimeLeft    float64 `json:"timeLeft"`
}

// UnmarshalJSON accepts any answerIndex value. Integral numbers such as 2 or 2.0 select that option,
// anything else decodes to NoAnswer.
func (r *SubmitAnswerRequest) UnmarshalJSON(b []byte) error {
	var raw struct {
		PIN         string          `json:"pin"`
		AnswerIndex json.RawMessage `json:"answerIndex"`
		TimeLeft    float64         `json:"timeLeft"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*r = SubmitAnswerRequest{
		PIN:         raw.PIN,
		AnswerIndex: NoAnswer,
		TimeLeft:    raw.TimeLeft,
	}

	var f float64
	if len(raw.AnswerIndex) == 0 || string(raw.AnswerIndex) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw.AnswerIndex, &f); err != nil {
		return nil
	}
	if f == math.Trunc(f) && math.Abs(f) <= math.MaxInt32 {
		r.AnswerIndex = int(f)
	}
	return nil
}

type HostSuccess struct {
	PIN     string          `json:"pin"`
	Players []domain.Player `json:"players"`
}

type PlayerJoined struct {
	Name  string `json:"name"`
	ID    string `json:"id"`
	Count int    `json:"count"`
}

type JoinSuccess struct {
	Name string `json:"name"`
	PIN  string `json:"pin"`
}

type NewQuestion struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	// QIndex is 1-based.
	QIndex    int `json:"qIndex"`
	Total     int `json:"total"`
	TimeLimit int `json:"timeLimit"`
}

type AnswerResult struct {
	Correct bool `json:"correct"`
	Points  int  `json:"points"`
}

type QuestionResults struct {
	CorrectAnswer int                       `json:"correctAnswer"`
	Stats         []int                     `json:"stats"`
	Leaderboard   []domain.LeaderboardEntry `json:"leaderboard"`
}

func Error(msg string) Outbound {
	return Outbound{Event: EventError, Data: msg}
}
