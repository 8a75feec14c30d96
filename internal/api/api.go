package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/skip2/go-qrcode"

	"github.com/victornm/livequiz/internal/archive"
	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/game"
	"github.com/victornm/livequiz/internal/hub"
	"github.com/victornm/livequiz/internal/quiz"
)

const (
	maxBodySize = 1 << 20
	qrSize      = 320
)

type Config struct {
	Engine   *gin.Engine
	EventBus *event.Bus
	Registry *game.Registry
	Hub      *hub.Hub
	Gateway  hub.Handler

	// JoinURL is the page players open to join, the PIN is added as the pin query parameter.
	// Empty means the root of the host the request came to.
	JoinURL string

	// Archive serves the leaderboard of games no longer in memory. Optional.
	Archive Archive

	// Redis receives session notifications. Optional.
	Redis        Redis
	PubsubPrefix string
}

type Archive interface {
	GetResults(ctx context.Context, pin string) (*archive.Results, error)
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	registry *game.Registry
	hub      *hub.Hub
	gateway  hub.Handler
	archive  Archive
	joinURL  string

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		registry: c.Registry,
		hub:      c.Hub,
		gateway:  c.Gateway,
		archive:  c.Archive,
		joinURL:  c.JoinURL,
		redis:    c.Redis,
		prefix:   c.PubsubPrefix,
	}

	// HTTP APIs
	g := c.Engine.Group("/api")
	g.POST("/sessions", a.CreateSession)
	g.GET("/sessions/:pin", a.GetSession)
	g.GET("/sessions/:pin/leaderboard", a.GetLeaderboard)
	g.GET("/sessions/:pin/qr", a.GetJoinQRCode)

	c.Engine.GET("/ws", a.Connect)

	// Register event handlers
	if a.redis != nil {
		event.On(c.EventBus, domain.EventNameLeaderboardUpdated, a.PublishLeaderboardUpdated)
		event.On(c.EventBus, domain.EventNameSessionFinished, a.PublishSessionFinished)
	}

	return a
}

type (
	CreateSessionRequest struct {
		TimeLimit int `json:"timeLimit"`
	}

	CreateSessionResponse struct {
		PIN            string `json:"pin"`
		QuestionsCount int    `json:"questionsCount"`
	}

	SessionResponse struct {
		PIN           string          `json:"pin"`
		Phase         domain.Phase    `json:"phase"`
		QuestionIndex int             `json:"questionIndex"`
		Total         int             `json:"total"`
		Players       []domain.Player `json:"players"`
	}
)

// CreateSession opens a lobby for the question set in the body, which has the same shape as the
// quiz generator output plus an optional timeLimit.
func (a *API) CreateSession(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize))
	if err != nil {
		a.fail(c, errors.InvalidArgument("read request body: %v", err))
		return
	}

	var req CreateSessionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		a.fail(c, errors.InvalidArgument("invalid request body"))
		return
	}

	qs, err := quiz.Decode(bytes.NewReader(body))
	if err != nil {
		a.fail(c, err)
		return
	}

	pin, err := a.registry.Create(c.Request.Context(), qs, req.TimeLimit)
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, CreateSessionResponse{
		PIN:            pin,
		QuestionsCount: len(qs),
	})
}

func (a *API) GetSession(c *gin.Context) {
	s, err := a.registry.Get(c.Param("pin"))
	if err != nil {
		a.fail(c, err)
		return
	}

	var resp SessionResponse
	s.View(func() {
		resp = SessionResponse{
			PIN:           s.PIN(),
			Phase:         s.Phase(),
			QuestionIndex: s.QuestionIndex(),
			Total:         s.TotalQuestions(),
			Players:       s.Players(),
		}
	})

	c.JSON(http.StatusOK, resp)
}

// GetLeaderboard returns every player of a session, best score first. Games already evicted from
// memory are answered from the archive when one is configured.
func (a *API) GetLeaderboard(c *gin.Context) {
	pin := c.Param("pin")

	s, err := a.registry.Get(pin)
	if err == nil {
		l := domain.Leaderboard{PIN: pin}
		s.View(func() {
			l.Entries = s.Leaderboard(0)
		})

		c.JSON(http.StatusOK, l)
		return
	}

	if !errors.HasCode(err, errors.CodeNotFound) || a.archive == nil {
		a.fail(c, err)
		return
	}

	res, err := a.archive.GetResults(c.Request.Context(), pin)
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, domain.Leaderboard{
		PIN:     res.PIN,
		Entries: res.Standings,
	})
}

// GetJoinQRCode renders the join link of a live session as a PNG QR code.
func (a *API) GetJoinQRCode(c *gin.Context) {
	s, err := a.registry.Get(c.Param("pin"))
	if err != nil {
		a.fail(c, err)
		return
	}

	link, err := a.joinLink(c.Request, s.PIN())
	if err != nil {
		a.fail(c, err)
		return
	}

	png, err := qrcode.Encode(link, qrcode.Medium, qrSize)
	if err != nil {
		a.fail(c, fmt.Errorf("encode qr code: %w", err))
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}

func (a *API) joinLink(r *http.Request, pin string) (string, error) {
	base := a.joinURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host + "/"
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse join url: %w", err)
	}

	q := u.Query()
	q.Set("pin", pin)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect upgrades the request to a websocket served by the gateway.
func (a *API) Connect(c *gin.Context) {
	if err := a.hub.Serve(c.Writer, c.Request, a.gateway); err != nil {
		slog.InfoContext(c.Request.Context(), "api: websocket upgrade failed", "error", err)
	}
}

func (a *API) fail(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed", "path", c.FullPath(), "error", err)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
