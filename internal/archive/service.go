package archive

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
)

// DB is the part of *pgxpool.Pool the archive uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Config struct {
	DB       DB
	EventBus *event.Bus
}

// Service keeps the final standings of finished games once their live session is gone.
type Service struct {
	db DB
}

func NewService(c Config) *Service {
	s := &Service{
		db: c.DB,
	}

	event.On(c.EventBus, domain.EventNameSessionFinished, s.SaveResults)

	return s
}

// Results are the archived standings of a game.
type Results struct {
	PIN        string
	Questions  int
	FinishedAt time.Time
	Standings  []domain.LeaderboardEntry
}

// SaveResults stores the final leaderboard of a game.
func (s *Service) SaveResults(ctx context.Context, e domain.EventSessionFinished) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		insGameStmt  = `INSERT INTO games (pin, questions, finished_at) VALUES ($1, $2, $3) RETURNING game_id;`
		insEntryStmt = `INSERT INTO game_standings (game_id, rank, player_id, name, score) VALUES ($1, $2, $3, $4, $5);`
	)

	var id int64
	if err = tx.QueryRow(ctx, insGameStmt, e.PIN, e.Questions, e.FinishedAt).Scan(&id); err != nil {
		return fmt.Errorf("insert game: %w", err)
	}

	b := &pgx.Batch{}
	for i, entry := range e.Standings {
		b.Queue(insEntryStmt, id, i+1, entry.ID, entry.Name, entry.Score)
	}
	if err = tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("insert standings: %w", err)
	}

	return tx.Commit(ctx)
}

// GetResults returns the standings of the most recent archived game with the given PIN.
func (s *Service) GetResults(ctx context.Context, pin string) (*Results, error) {
	const gameStmt = `
SELECT game_id, questions, finished_at
FROM games
WHERE pin = $1
ORDER BY finished_at DESC
LIMIT 1;`

	res := Results{PIN: pin}

	var id int64
	err := s.db.QueryRow(ctx, gameStmt, pin).Scan(&id, &res.Questions, &res.FinishedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("no archived results for game %s", pin)
	}
	if err != nil {
		return nil, fmt.Errorf("get game: %w", err)
	}

	const standingsStmt = `
SELECT player_id, name, score
FROM game_standings
WHERE game_id = $1
ORDER BY rank;`

	rows, err := s.db.Query(ctx, standingsStmt, id)
	if err != nil {
		return nil, fmt.Errorf("get standings: %w", err)
	}

	res.Standings, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.LeaderboardEntry, error) {
		var e domain.LeaderboardEntry
		err := r.Scan(&e.ID, &e.Name, &e.Score)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect standings: %w", err)
	}

	return &res, nil
}
