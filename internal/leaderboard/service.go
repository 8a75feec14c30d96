package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond

	defaultRetention = time.Hour
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
	// Retention is how long the mirror of a finished game is kept.
	Retention time.Duration
}

// Service mirrors session scores into Redis sorted sets, so that other processes can read
// standings without going through the game server.
type Service struct {
	eb        *event.Bus
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

func NewService(c Config) *Service {
	s := &Service{
		eb:        c.EventBus,
		redis:     c.Redis,
		prefix:    c.Prefix,
		retention: c.Retention,
	}

	if s.retention <= 0 {
		s.retention = defaultRetention
	}

	event.On(s.eb, domain.EventNamePlayerJoined, s.AddPlayer)
	event.On(s.eb, domain.EventNameAnswerSubmitted, s.UpdateLeaderboard)
	event.On(s.eb, domain.EventNameSessionFinished, s.Finalize)
	event.On(s.eb, domain.EventNameSessionExpired, s.Drop)

	return s
}

type GetLeaderboardRequest struct {
	PIN string
	// Limit caps the number of entries, 0 returns everyone.
	Limit int
}

// GetLeaderboard returns the mirrored leaderboard of a session, best score first.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	stop := int64(-1)
	if req.Limit > 0 {
		stop = int64(req.Limit - 1)
	}

	res, err := s.redis.ZRevRangeWithScores(ctx, s.getLeaderboardKey(req.PIN), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("leaderboard not found: pin=%s", req.PIN))
	}

	names, err := s.redis.HGetAll(ctx, s.getNamesKey(req.PIN)).Result()
	if err != nil {
		return nil, fmt.Errorf("get player names: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		id := z.Member.(string)
		entries = append(entries, domain.LeaderboardEntry{
			ID:    id,
			Name:  names[id],
			Score: int(z.Score),
		})
	}

	return &domain.Leaderboard{
		PIN:     req.PIN,
		Entries: entries,
	}, nil
}

// AddPlayer puts a newly joined player on the board with a zero score.
func (s *Service) AddPlayer(ctx context.Context, e domain.EventPlayerJoined) error {
	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.getNamesKey(e.PIN), e.Player.ID, e.Player.Name)
		p.ZAddNX(ctx, s.getLeaderboardKey(e.PIN), redis.Z{Score: 0, Member: e.Player.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("add player: %w", err)
	}
	return nil
}

// UpdateLeaderboard overwrites the player's total score in the leaderboard.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventAnswerSubmitted) error {
	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.getNamesKey(e.PIN), e.PlayerID, e.PlayerName)
		p.ZAdd(ctx, s.getLeaderboardKey(e.PIN), redis.Z{
			Score:  float64(e.TotalScore),
			Member: e.PlayerID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return s.schedulePublishLeaderboard(ctx, e.PIN, e.SubmitTime)
}

// Finalize writes the final standings and lets the mirror expire after the retention period.
func (s *Service) Finalize(ctx context.Context, e domain.EventSessionFinished) error {
	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, entry := range e.Standings {
			p.HSet(ctx, s.getNamesKey(e.PIN), entry.ID, entry.Name)
			p.ZAdd(ctx, s.getLeaderboardKey(e.PIN), redis.Z{Score: float64(entry.Score), Member: entry.ID})
		}
		p.Expire(ctx, s.getLeaderboardKey(e.PIN), s.retention)
		p.Expire(ctx, s.getNamesKey(e.PIN), s.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("finalize leaderboard: %w", err)
	}
	return nil
}

// Drop removes the mirror of an evicted session.
func (s *Service) Drop(ctx context.Context, e domain.EventSessionExpired) error {
	keys := []string{s.getLeaderboardKey(e.PIN), s.getNamesKey(e.PIN), s.getLeaderboardTimeKey(e.PIN)}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("drop leaderboard: %w", err)
	}
	return nil
}

// schedulePublishLeaderboard publishes the leaderboard changes after a certain interval.
// Answers of a question arrive in bursts, publishing at most once per interval keeps the number of
// leaderboard.updated events small.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, pin string, at time.Time) error {
	ok, err := s.redis.SetNX(ctx, s.getLeaderboardTimeKey(pin), at.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx, pin)
}

func (s *Service) publishLeaderboard(ctx context.Context, pin string) error {
	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{PIN: pin})
	if err != nil {
		return fmt.Errorf("get leaderboard failed: pin=%s: %w", pin, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return nil
}

func (s *Service) getLeaderboardKey(pin string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, pin)
}

func (s *Service) getNamesKey(pin string) string {
	return fmt.Sprintf("%s:%s:names", s.prefix, pin)
}

func (s *Service) getLeaderboardTimeKey(pin string) string {
	return fmt.Sprintf("%s:%s:time", s.prefix, pin)
}
