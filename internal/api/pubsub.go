package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/victornm/livequiz/internal/domain"
)

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	GameOver struct {
		PIN        string                    `json:"pin"`
		Questions  int                       `json:"questions"`
		FinishedAt int64                     `json:"finishedAt"`
		Standings  []domain.LeaderboardEntry `json:"standings"`
	}
)

func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	return a.publishNotification(ctx, e.Leaderboard.PIN, e.Name(), e.Leaderboard)
}

func (a *API) PublishSessionFinished(ctx context.Context, e domain.EventSessionFinished) error {
	return a.publishNotification(ctx, e.PIN, e.Name(), GameOver{
		PIN:        e.PIN,
		Questions:  e.Questions,
		FinishedAt: e.FinishedAt.UnixMilli(),
		Standings:  e.Standings,
	})
}

func (a *API) publishNotification(ctx context.Context, pin, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:session:%s", a.prefix, pin), b).Err()
}
