package game

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/score"
)

// InterimLeaderboardSize is the number of players shown between questions.
const InterimLeaderboardSize = 5

// Session is the state machine of a single quiz game.
//
// Methods other than Exec and PIN are not synchronized: callers must run them inside Exec so that
// reading the state, mutating it and queueing the resulting messages happen as one step.
type Session struct {
	mu    sync.Mutex
	clock clockwork.Clock

	pin       string
	questions []domain.Question
	timeLimit int

	phase   domain.Phase
	current int
	host    string

	players map[string]*domain.Player
	order   []string
	answers map[int]map[string]domain.AnswerRecord

	createdAt  time.Time
	lastActive time.Time
	finishedAt time.Time
}

func newSession(pin string, questions []domain.Question, timeLimit int, clock clockwork.Clock) *Session {
	now := clock.Now()

	qs := make([]domain.Question, len(questions))
	for i, q := range questions {
		q.Options = append([]string(nil), q.Options...)
		qs[i] = q
	}

	return &Session{
		clock:      clock,
		pin:        pin,
		questions:  qs,
		timeLimit:  timeLimit,
		phase:      domain.PhaseLobby,
		current:    -1,
		players:    make(map[string]*domain.Player),
		answers:    make(map[int]map[string]domain.AnswerRecord),
		createdAt:  now,
		lastActive: now,
	}
}

// Exec runs fn with exclusive access to the session.
func (s *Session) Exec(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActive = s.clock.Now()
	return fn()
}

// View runs fn with exclusive access to the session without counting as activity.
func (s *Session) View(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn()
}

func (s *Session) PIN() string { return s.pin }

func (s *Session) Phase() domain.Phase { return s.phase }

// QuestionIndex is the zero-based index of the current question, -1 before the game starts.
func (s *Session) QuestionIndex() int { return s.current }

func (s *Session) TotalQuestions() int { return len(s.questions) }

func (s *Session) TimeLimit() int { return s.timeLimit }

func (s *Session) Host() string { return s.host }

// CurrentQuestion returns the question being played. ok is false outside of the question range.
func (s *Session) CurrentQuestion() (q domain.Question, ok bool) {
	if s.current < 0 || s.current >= len(s.questions) {
		return domain.Question{}, false
	}
	return s.questions[s.current], true
}

// Role resolves how the connection takes part in the session.
func (s *Session) Role(connID string) domain.Role {
	if connID != "" && connID == s.host {
		return domain.Role{Kind: domain.RoleHost}
	}
	if p, ok := s.players[connID]; ok {
		return domain.Role{Kind: domain.RolePlayer, Name: p.Name}
	}
	return domain.Role{Kind: domain.RoleNone}
}

// BindHost makes connID the host of the session, replacing any previous host.
func (s *Session) BindHost(connID string) {
	s.host = connID
}

// AddPlayer registers connID as a player. Joining twice with the same connection returns the
// existing player with added set to false.
func (s *Session) AddPlayer(connID, name string) (p domain.Player, added bool, err error) {
	if s.phase != domain.PhaseLobby {
		return domain.Player{}, false, errors.FailedPrecondition("game %s has already started", s.pin)
	}
	if connID == s.host {
		return domain.Player{}, false, errors.PermissionDenied("the host cannot join as a player")
	}

	if existing, ok := s.players[connID]; ok {
		return *existing, false, nil
	}

	np := &domain.Player{
		ID:   connID,
		Name: name,
		Seq:  len(s.order),
	}
	s.players[connID] = np
	s.order = append(s.order, connID)

	return *np, true, nil
}

// Players returns the players in join order.
func (s *Session) Players() []domain.Player {
	ps := make([]domain.Player, 0, len(s.order))
	for _, id := range s.order {
		ps = append(ps, *s.players[id])
	}
	return ps
}

func (s *Session) PlayerCount() int { return len(s.order) }

// Start moves the session from the lobby to the first question.
func (s *Session) Start() (domain.Question, error) {
	if s.phase != domain.PhaseLobby {
		return domain.Question{}, errors.FailedPrecondition("game %s is not in the lobby", s.pin)
	}

	s.current = 0
	s.phase = domain.PhaseQuestionActive
	return s.questions[0], nil
}

// Next advances to the following question. When no question remains the session is finished and
// finished is true.
func (s *Session) Next() (q domain.Question, finished bool, err error) {
	if s.phase != domain.PhaseResults && s.phase != domain.PhaseQuestionActive {
		return domain.Question{}, false, errors.FailedPrecondition("cannot advance game %s in phase %s", s.pin, s.phase)
	}

	s.current++
	if s.current < len(s.questions) {
		s.phase = domain.PhaseQuestionActive
		return s.questions[s.current], false, nil
	}

	s.phase = domain.PhaseFinished
	s.finishedAt = s.clock.Now()
	return domain.Question{}, true, nil
}

// SubmitAnswerResult is the outcome of an accepted answer.
type SubmitAnswerResult struct {
	Record     domain.AnswerRecord
	TotalScore int
	// Answers is the number of answers received for the current question so far.
	Answers int
}

// SubmitAnswer records the answer of a player for the current question. A second answer for the
// same question is rejected with CodeAlreadyExists and changes nothing.
func (s *Session) SubmitAnswer(connID string, answerIndex int, timeLeft float64) (*SubmitAnswerResult, error) {
	if s.phase != domain.PhaseQuestionActive {
		return nil, errors.FailedPrecondition("no question is open in game %s", s.pin)
	}

	p, ok := s.players[connID]
	if !ok {
		return nil, errors.PermissionDenied("not a player of game %s", s.pin)
	}

	answers := s.answers[s.current]
	if answers == nil {
		answers = make(map[string]domain.AnswerRecord)
		s.answers[s.current] = answers
	}

	if _, dup := answers[connID]; dup {
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("answer already submitted: game=%s player=%s question=%d", s.pin, connID, s.current))
	}

	correct := answerIndex == s.questions[s.current].CorrectIndex
	rec := domain.AnswerRecord{
		PlayerID:    connID,
		AnswerIndex: answerIndex,
		Correct:     correct,
		Points:      score.Points(correct, timeLeft, float64(s.timeLimit)),
		SubmitTime:  s.clock.Now(),
	}

	answers[connID] = rec
	p.Score = score.Add(p.Score, rec.Points)

	return &SubmitAnswerResult{
		Record:     rec,
		TotalScore: p.Score,
		Answers:    len(answers),
	}, nil
}

// AnswerCount is the number of answers for the current question.
func (s *Session) AnswerCount() int {
	return len(s.answers[s.current])
}

// Answer returns the record of a player for a question.
func (s *Session) Answer(qIndex int, connID string) (domain.AnswerRecord, bool) {
	rec, ok := s.answers[qIndex][connID]
	return rec, ok
}

// Results is what the host reveals after a question.
type Results struct {
	QuestionIndex int
	CorrectAnswer int
	Stats         [domain.OptionsPerQuestion]int
	Leaderboard   []domain.LeaderboardEntry
}

// ShowResults closes the current question and returns its tally with the interim leaderboard.
func (s *Session) ShowResults() (*Results, error) {
	if s.phase != domain.PhaseQuestionActive && s.phase != domain.PhaseResults {
		return nil, errors.FailedPrecondition("no question results in game %s during phase %s", s.pin, s.phase)
	}

	s.phase = domain.PhaseResults
	return &Results{
		QuestionIndex: s.current,
		CorrectAnswer: s.questions[s.current].CorrectIndex,
		Stats:         s.Tally(s.current),
		Leaderboard:   s.Leaderboard(InterimLeaderboardSize),
	}, nil
}

// Tally counts the answers per option of a question, ignoring out of range option indexes.
func (s *Session) Tally(qIndex int) [domain.OptionsPerQuestion]int {
	var stats [domain.OptionsPerQuestion]int
	for _, rec := range s.answers[qIndex] {
		if rec.AnswerIndex >= 0 && rec.AnswerIndex < domain.OptionsPerQuestion {
			stats[rec.AnswerIndex]++
		}
	}
	return stats
}

// Leaderboard ranks players by score, equal scores keep join order. A limit <= 0 returns everyone.
func (s *Session) Leaderboard(limit int) []domain.LeaderboardEntry {
	return rank(s.Players(), limit)
}

func (s *Session) FinishedAt() time.Time { return s.finishedAt }

// idleSince reports the last time an event touched the session.
func (s *Session) idleSince() time.Time { return s.lastActive }
