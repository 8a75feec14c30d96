package domain

import "time"

const (
	EventNameSessionCreated     = "session.created"
	EventNameSessionFinished    = "session.finished"
	EventNameSessionExpired     = "session.expired"
	EventNamePlayerJoined       = "player.joined"
	EventNameAnswerSubmitted    = "answer.submitted"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventSessionCreated struct {
	PIN            string
	QuestionsCount int
	TimeLimit      int
}

func (EventSessionCreated) Name() string { return EventNameSessionCreated }

type EventSessionFinished struct {
	PIN        string
	Questions  int
	Standings  []LeaderboardEntry
	FinishedAt time.Time
}

func (EventSessionFinished) Name() string { return EventNameSessionFinished }

type EventSessionExpired struct {
	PIN   string
	Phase Phase
}

func (EventSessionExpired) Name() string { return EventNameSessionExpired }

type EventPlayerJoined struct {
	PIN    string
	Player Player
}

func (EventPlayerJoined) Name() string { return EventNamePlayerJoined }

// EventAnswerSubmitted is published once per accepted answer, duplicates are never published.
type EventAnswerSubmitted struct {
	PIN           string
	QuestionIndex int
	PlayerID      string
	PlayerName    string
	Correct       bool
	Points        int
	TotalScore    int
	SubmitTime    time.Time
}

func (EventAnswerSubmitted) Name() string { return EventNameAnswerSubmitted }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
