package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/leaderboard"
)

func TestService_UpdateLeaderboard(t *testing.T) {
	s, _ := makeService(t)
	ctx := context.Background()

	require.NoError(t, s.AddPlayer(ctx, domain.EventPlayerJoined{
		PIN:    "123456",
		Player: domain.Player{ID: "c2", Name: "bob"},
	}))

	err := s.UpdateLeaderboard(ctx, domain.EventAnswerSubmitted{
		PIN:        "123456",
		PlayerID:   "c1",
		PlayerName: "alice",
		Correct:    true,
		Points:     750,
		TotalScore: 750,
		SubmitTime: time.Now(),
	})
	require.NoError(t, err)

	resp, err := s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{
		PIN: "123456",
	})
	require.NoError(t, err)

	want := &domain.Leaderboard{
		PIN: "123456",
		Entries: []domain.LeaderboardEntry{
			{ID: "c1", Name: "alice", Score: 750},
			{ID: "c2", Name: "bob", Score: 0},
		},
	}
	require.Equal(t, want, resp)

	top, err := s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{PIN: "123456", Limit: 1})
	require.NoError(t, err)
	require.Len(t, top.Entries, 1)
}

func TestService_GetLeaderboardNotFound(t *testing.T) {
	s, _ := makeService(t)

	_, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{PIN: "999999"})
	require.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestService_FinalizeAndDrop(t *testing.T) {
	s, mr := makeService(t, withRetention(time.Minute))
	ctx := context.Background()

	err := s.Finalize(ctx, domain.EventSessionFinished{
		PIN: "123456",
		Standings: []domain.LeaderboardEntry{
			{ID: "c1", Name: "alice", Score: 1250},
			{ID: "c2", Name: "bob", Score: 750},
		},
		FinishedAt: time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, time.Minute, mr.TTL("test:123456:leaderboard"))

	l, err := s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{PIN: "123456"})
	require.NoError(t, err)
	require.Equal(t, "alice", l.Entries[0].Name)

	require.NoError(t, s.Drop(ctx, domain.EventSessionExpired{PIN: "123456"}))
	require.False(t, mr.Exists("test:123456:leaderboard"))
	require.False(t, mr.Exists("test:123456:names"))
}

func TestServer_PublishLeaderboardUpdated(t *testing.T) {
	type (
		inputs struct {
			receivedEvents []domain.EventAnswerSubmitted
		}

		outputs struct {
			publishedEvents []domain.EventLeaderboardUpdated
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should publish correct event leaderboard.updated after receiving answer.submitted": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventAnswerSubmitted{
						{PIN: "s1", PlayerID: "u1", PlayerName: "alice", TotalScore: 1000, SubmitTime: time.Now()},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
				require.Equal(t, domain.Leaderboard{
					PIN: "s1",
					Entries: []domain.LeaderboardEntry{
						{ID: "u1", Name: "alice", Score: 1000},
					},
				}, out.publishedEvents[0].Leaderboard)
			},
		},

		"should publish 2 events leaderboard.updated after receiving answers for 2 different sessions": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventAnswerSubmitted{
						{PIN: "s1", PlayerID: "u1", PlayerName: "alice", TotalScore: 1000, SubmitTime: time.Now()},
						{PIN: "s2", PlayerID: "u2", PlayerName: "bob", TotalScore: 500, SubmitTime: time.Now()},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 2, "should receive 2 leaderboard updated event")
			},
		},

		"should publish 1 event leaderboard.updated after receiving answers for the same session within the publish interval": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventAnswerSubmitted{
						{PIN: "s1", PlayerID: "u1", PlayerName: "alice", TotalScore: 1000, SubmitTime: time.Now()},
						{PIN: "s1", PlayerID: "u2", PlayerName: "bob", TotalScore: 500, SubmitTime: time.Now()},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tt.arrange(), outputs{}

			eb := event.NewBus()

			var mu sync.Mutex
			event.On(eb, domain.EventNameLeaderboardUpdated, func(_ context.Context, e domain.EventLeaderboardUpdated) error {
				mu.Lock()
				out.publishedEvents = append(out.publishedEvents, e)
				mu.Unlock()
				return nil
			})

			s, _ := makeService(t,
				withEventBus(eb),
			)

			for _, e := range in.receivedEvents {
				err := s.UpdateLeaderboard(context.Background(), e)
				require.NoError(t, err)
			}

			eb.Stop()

			tt.assert(t, out)
		})
	}
}

func makeService(t *testing.T, opts ...options) (*leaderboard.Service, *miniredis.Miniredis) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		EventBus: event.NewBus(),
		Redis:    rc,
		Prefix:   "test",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c), rs
}

type options func(c *leaderboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}

func withRetention(d time.Duration) options {
	return func(c *leaderboard.Config) {
		c.Retention = d
	}
}
