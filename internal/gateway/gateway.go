package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/game"
	"github.com/victornm/livequiz/internal/wire"
)

const maxNameLength = 32

// Bus delivers outbound messages. Implementations must not block: the gateway calls them while
// holding a session lock so that messages of a session are queued in the order they happened.
type Bus interface {
	// Send delivers a message to a single connection.
	Send(connID string, m wire.Outbound)
	// Broadcast delivers a message to every connection that joined the PIN group.
	Broadcast(pin string, m wire.Outbound)
	// Join adds a connection to the PIN group.
	Join(pin, connID string)
}

type Config struct {
	Registry *game.Registry
	Bus      Bus
	EventBus *event.Bus
}

// Gateway applies inbound client events to quiz sessions.
type Gateway struct {
	registry *game.Registry
	bus      Bus
	eb       *event.Bus
}

func New(c Config) *Gateway {
	return &Gateway{
		registry: c.Registry,
		bus:      c.Bus,
		eb:       c.EventBus,
	}
}

// Handle processes one event sent by a connection. Failures are reported to that connection as an
// error message, they never propagate to the caller.
func (g *Gateway) Handle(ctx context.Context, connID string, in wire.Inbound) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "gateway: handler panic",
				"conn", connID,
				"event", in.Event,
				"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
			)
			g.bus.Send(connID, wire.Error("internal error"))
		}
	}()

	err := g.route(ctx, connID, in)
	if err == nil {
		return
	}

	// The first submission already got its feedback.
	if errors.HasCode(err, errors.CodeAlreadyExists) {
		slog.DebugContext(ctx, "gateway: duplicate ignored", "conn", connID, "event", in.Event, "error", err)
		return
	}

	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(ctx, "gateway: handle event failed", "conn", connID, "event", in.Event, "error", err)
	} else {
		slog.InfoContext(ctx, "gateway: event rejected", "conn", connID, "event", in.Event, "error", err)
	}

	g.bus.Send(connID, wire.Error(e.Message))
}

// Disconnected is called once a connection is gone. Session state is left untouched: a player keeps
// its score and a host may come back with a fresh host_join.
func (g *Gateway) Disconnected(ctx context.Context, connID string) {
	slog.InfoContext(ctx, "gateway: connection closed", "conn", connID)
}

func (g *Gateway) route(ctx context.Context, connID string, in wire.Inbound) error {
	switch in.Event {
	case wire.EventHostJoin:
		return g.hostJoin(ctx, connID, in.Data)
	case wire.EventPlayerJoin:
		return g.playerJoin(ctx, connID, in.Data)
	case wire.EventStartGame:
		return g.startGame(ctx, connID, in.Data)
	case wire.EventNextQuestion:
		return g.nextQuestion(ctx, connID, in.Data)
	case wire.EventSubmitAnswer:
		return g.submitAnswer(ctx, connID, in.Data)
	case wire.EventShowResults:
		return g.showResults(ctx, connID, in.Data)
	default:
		return errors.InvalidArgument("unknown event %q", in.Event)
	}
}

func (g *Gateway) hostJoin(ctx context.Context, connID string, data json.RawMessage) error {
	s, err := g.session(data)
	if err != nil {
		return err
	}

	err = s.Exec(func() error {
		s.BindHost(connID)
		g.bus.Join(s.PIN(), connID)
		g.bus.Send(connID, wire.Outbound{
			Event: wire.EventHostSuccess,
			Data: wire.HostSuccess{
				PIN:     s.PIN(),
				Players: s.Players(),
			},
		})
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "gateway: host bound", "pin", s.PIN(), "conn", connID)
	return nil
}

func (g *Gateway) playerJoin(ctx context.Context, connID string, data json.RawMessage) error {
	var req wire.PlayerJoinRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.InvalidArgument("invalid %s payload", wire.EventPlayerJoin)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return errors.InvalidArgument("name is required")
	}
	if len([]rune(name)) > maxNameLength {
		return errors.InvalidArgument("name must be at most %d characters", maxNameLength)
	}

	s, err := g.registry.Get(req.PIN)
	if err != nil {
		return err
	}

	var (
		p     domain.Player
		added bool
	)
	err = s.Exec(func() error {
		p, added, err = s.AddPlayer(connID, name)
		if err != nil {
			return err
		}

		g.bus.Join(s.PIN(), connID)
		if added && s.Host() != "" {
			g.bus.Send(s.Host(), wire.Outbound{
				Event: wire.EventPlayerJoined,
				Data: wire.PlayerJoined{
					Name:  p.Name,
					ID:    p.ID,
					Count: s.PlayerCount(),
				},
			})
		}
		g.bus.Send(connID, wire.Outbound{
			Event: wire.EventJoinSuccess,
			Data:  wire.JoinSuccess{Name: p.Name, PIN: s.PIN()},
		})
		return nil
	})
	if err != nil {
		return err
	}

	if added {
		g.eb.Publish(ctx, domain.EventPlayerJoined{PIN: s.PIN(), Player: p})
	}
	return nil
}

func (g *Gateway) startGame(_ context.Context, connID string, data json.RawMessage) error {
	s, err := g.session(data)
	if err != nil {
		return err
	}

	return s.Exec(func() error {
		if err := requireHost(s, connID, "start the game"); err != nil {
			return err
		}

		q, err := s.Start()
		if err != nil {
			return err
		}

		g.broadcastQuestion(s, q)
		return nil
	})
}

func (g *Gateway) nextQuestion(ctx context.Context, connID string, data json.RawMessage) error {
	s, err := g.session(data)
	if err != nil {
		return err
	}

	var finished *domain.EventSessionFinished
	err = s.Exec(func() error {
		if err := requireHost(s, connID, "advance the game"); err != nil {
			return err
		}

		q, done, err := s.Next()
		if err != nil {
			return err
		}

		if !done {
			g.broadcastQuestion(s, q)
			return nil
		}

		standings := s.Leaderboard(0)
		g.bus.Broadcast(s.PIN(), wire.Outbound{Event: wire.EventGameOver, Data: standings})
		finished = &domain.EventSessionFinished{
			PIN:        s.PIN(),
			Questions:  s.TotalQuestions(),
			Standings:  standings,
			FinishedAt: s.FinishedAt(),
		}
		return nil
	})
	if err != nil {
		return err
	}

	if finished != nil {
		slog.InfoContext(ctx, "gateway: game finished", "pin", s.PIN(), "players", len(finished.Standings))
		g.eb.Publish(ctx, *finished)
	}
	return nil
}

func (g *Gateway) submitAnswer(ctx context.Context, connID string, data json.RawMessage) error {
	var req wire.SubmitAnswerRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.InvalidArgument("invalid %s payload", wire.EventSubmitAnswer)
	}

	s, err := g.registry.Get(req.PIN)
	if err != nil {
		return err
	}

	var submitted domain.EventAnswerSubmitted
	err = s.Exec(func() error {
		res, err := s.SubmitAnswer(connID, req.AnswerIndex, req.TimeLeft)
		if err != nil {
			return err
		}

		g.bus.Send(connID, wire.Outbound{
			Event: wire.EventAnswerResult,
			Data: wire.AnswerResult{
				Correct: res.Record.Correct,
				Points:  res.Record.Points,
			},
		})
		if s.Host() != "" {
			g.bus.Send(s.Host(), wire.Outbound{Event: wire.EventUpdateAnswersCount, Data: res.Answers})
		}

		submitted = domain.EventAnswerSubmitted{
			PIN:           s.PIN(),
			QuestionIndex: s.QuestionIndex(),
			PlayerID:      connID,
			PlayerName:    s.Role(connID).Name,
			Correct:       res.Record.Correct,
			Points:        res.Record.Points,
			TotalScore:    res.TotalScore,
			SubmitTime:    res.Record.SubmitTime,
		}
		return nil
	})
	if err != nil {
		return err
	}

	g.eb.Publish(ctx, submitted)
	return nil
}

func (g *Gateway) showResults(_ context.Context, connID string, data json.RawMessage) error {
	s, err := g.session(data)
	if err != nil {
		return err
	}

	return s.Exec(func() error {
		if err := requireHost(s, connID, "show results"); err != nil {
			return err
		}

		res, err := s.ShowResults()
		if err != nil {
			return err
		}

		g.bus.Broadcast(s.PIN(), wire.Outbound{
			Event: wire.EventQuestionResults,
			Data: wire.QuestionResults{
				CorrectAnswer: res.CorrectAnswer,
				Stats:         res.Stats[:],
				Leaderboard:   res.Leaderboard,
			},
		})
		return nil
	})
}

func (g *Gateway) broadcastQuestion(s *game.Session, q domain.Question) {
	g.bus.Broadcast(s.PIN(), wire.Outbound{
		Event: wire.EventNewQuestion,
		Data: wire.NewQuestion{
			Question:  q.Question,
			Options:   q.Options,
			QIndex:    s.QuestionIndex() + 1,
			Total:     s.TotalQuestions(),
			TimeLimit: s.TimeLimit(),
		},
	})
}

// session resolves the session named by a PIN payload.
func (g *Gateway) session(data json.RawMessage) (*game.Session, error) {
	pin, err := decodePIN(data)
	if err != nil {
		return nil, err
	}
	return g.registry.Get(pin)
}

// decodePIN accepts both {"pin": "123456"} and a bare "123456".
func decodePIN(data json.RawMessage) (string, error) {
	var req wire.PINRequest
	if err := json.Unmarshal(data, &req); err == nil && req.PIN != "" {
		return req.PIN, nil
	}

	var pin string
	if err := json.Unmarshal(data, &pin); err == nil && pin != "" {
		return pin, nil
	}

	return "", errors.InvalidArgument("pin is required")
}

func requireHost(s *game.Session, connID, action string) error {
	if !s.Role(connID).IsHost() {
		return errors.PermissionDenied("only the host can %s", action)
	}
	return nil
}
