package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/api"
	"github.com/victornm/livequiz/internal/archive"
	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/game"
	"github.com/victornm/livequiz/internal/gateway"
	"github.com/victornm/livequiz/internal/hub"
	"github.com/victornm/livequiz/internal/wire"
)

const twoQuestions = `{"questions":[
	{"question":"2+2?","options":["4","3","5","22"],"correctIndex":0},
	{"question":"Capital of France?","options":["Rome","Paris","Oslo","Bern"],"correctIndex":1}
]`

func TestAPI_CreateSession(t *testing.T) {
	tests := map[string]struct {
		body   string
		assert func(t *testing.T, rec *httptest.ResponseRecorder, reg *game.Registry)
	}{
		"should create a lobby with the requested time limit": {
			body: twoQuestions + `,"timeLimit":30}`,
			assert: func(t *testing.T, rec *httptest.ResponseRecorder, reg *game.Registry) {
				require.Equal(t, http.StatusCreated, rec.Code)

				var resp api.CreateSessionResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Len(t, resp.PIN, 6)
				assert.Equal(t, 2, resp.QuestionsCount)

				s, err := reg.Get(resp.PIN)
				require.NoError(t, err)
				assert.Equal(t, 30, s.TimeLimit())
				assert.Equal(t, domain.PhaseLobby, s.Phase())
			},
		},

		"should default the time limit": {
			body: twoQuestions + `}`,
			assert: func(t *testing.T, rec *httptest.ResponseRecorder, reg *game.Registry) {
				require.Equal(t, http.StatusCreated, rec.Code)

				var resp api.CreateSessionResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

				s, err := reg.Get(resp.PIN)
				require.NoError(t, err)
				assert.Equal(t, domain.DefaultTimeLimit, s.TimeLimit())
			},
		},

		"should reject a question with three options": {
			body: `{"questions":[{"question":"q","options":["a","b","c"],"correctIndex":0}]}`,
			assert: func(t *testing.T, rec *httptest.ResponseRecorder, reg *game.Registry) {
				assertError(t, rec, http.StatusBadRequest, errors.CodeInvalidArgument)
				assert.Contains(t, rec.Body.String(), "invalid quiz generation output")
				assert.Zero(t, reg.Len(), "no session should be created")
			},
		},

		"should reject a body without questions": {
			body: `{"timeLimit":10}`,
			assert: func(t *testing.T, rec *httptest.ResponseRecorder, reg *game.Registry) {
				assertError(t, rec, http.StatusBadRequest, errors.CodeInvalidArgument)
				assert.Zero(t, reg.Len())
			},
		},

		"should reject malformed json": {
			body: `{`,
			assert: func(t *testing.T, rec *httptest.ResponseRecorder, reg *game.Registry) {
				assertError(t, rec, http.StatusBadRequest, errors.CodeInvalidArgument)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			e, reg, _ := makeAPI(t)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(tt.body))
			e.ServeHTTP(rec, req)

			tt.assert(t, rec, reg)
		})
	}
}

func TestAPI_GetSession(t *testing.T) {
	e, reg, _ := makeAPI(t)
	pin := createSession(t, reg)

	s, err := reg.Get(pin)
	require.NoError(t, err)
	require.NoError(t, s.Exec(func() error {
		_, _, err := s.AddPlayer("c1", "alice")
		return err
	}))

	rec := get(e, "/api/sessions/"+pin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"pin": "`+pin+`",
		"phase": "lobby",
		"questionIndex": -1,
		"total": 2,
		"players": [{"id": "c1", "name": "alice", "score": 0}]
	}`, rec.Body.String())

	assertError(t, get(e, "/api/sessions/000000"), http.StatusNotFound, errors.CodeNotFound)
}

func TestAPI_GetLeaderboard(t *testing.T) {
	e, reg, _ := makeAPI(t, withArchive(fakeArchive{
		"654321": {
			PIN:       "654321",
			Questions: 3,
			Standings: []domain.LeaderboardEntry{{ID: "x", Name: "carol", Score: 2100}},
		},
	}))

	pin := createSession(t, reg)
	s, err := reg.Get(pin)
	require.NoError(t, err)
	require.NoError(t, s.Exec(func() error {
		if _, _, err := s.AddPlayer("a", "alice"); err != nil {
			return err
		}
		if _, _, err := s.AddPlayer("b", "bob"); err != nil {
			return err
		}
		if _, err := s.Start(); err != nil {
			return err
		}
		_, err := s.SubmitAnswer("b", 0, 10)
		return err
	}))

	t.Run("should rank a live session", func(t *testing.T) {
		rec := get(e, "/api/sessions/"+pin+"/leaderboard")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"pin":"`+pin+`","entries":[
			{"id":"b","name":"bob","score":500},
			{"id":"a","name":"alice","score":0}
		]}`, rec.Body.String())
	})

	t.Run("should fall back to the archive", func(t *testing.T) {
		rec := get(e, "/api/sessions/654321/leaderboard")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"pin":"654321","entries":[{"id":"x","name":"carol","score":2100}]}`, rec.Body.String())
	})

	t.Run("should report unknown games", func(t *testing.T) {
		assertError(t, get(e, "/api/sessions/111111/leaderboard"), http.StatusNotFound, errors.CodeNotFound)
	})
}

func TestAPI_GetJoinQRCode(t *testing.T) {
	e, reg, _ := makeAPI(t)
	pin := createSession(t, reg)

	rec := get(e, "/api/sessions/"+pin+"/qr")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\x89PNG"), "body should be a png image")

	assertError(t, get(e, "/api/sessions/000000/qr"), http.StatusNotFound, errors.CodeNotFound)
}

func TestAPI_Connect(t *testing.T) {
	e, reg, _ := makeAPI(t)
	pin := createSession(t, reg)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	require.NoError(t, ws.WriteJSON(wire.Outbound{Event: wire.EventHostJoin, Data: wire.PINRequest{PIN: pin}}))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var m struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, ws.ReadJSON(&m))
	assert.Equal(t, wire.EventHostSuccess, m.Event)
	assert.JSONEq(t, `{"pin":"`+pin+`","players":[]}`, string(m.Data))
}

func TestAPI_PublishNotifications(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})
	t.Cleanup(func() { rc.Close() })

	_, _, eb := makeAPI(t, withRedis(rc, "test"))

	ps := rc.Subscribe(ctx, "test:session:123456")
	t.Cleanup(func() { ps.Close() })
	_, err := ps.Receive(ctx)
	require.NoError(t, err, "should confirm the subscription")

	eb.Publish(ctx, domain.EventLeaderboardUpdated{Leaderboard: domain.Leaderboard{
		PIN:     "123456",
		Entries: []domain.LeaderboardEntry{{ID: "a", Name: "alice", Score: 1000}},
	}})

	msg, err := ps.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"leaderboard.updated","data":{
		"pin":"123456",
		"entries":[{"id":"a","name":"alice","score":1000}]
	}}`, msg.Payload)

	eb.Publish(ctx, domain.EventSessionFinished{
		PIN:        "123456",
		Questions:  2,
		Standings:  []domain.LeaderboardEntry{{ID: "a", Name: "alice", Score: 1250}},
		FinishedAt: time.UnixMilli(1700000000000),
	})

	msg, err = ps.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"session.finished","data":{
		"pin":"123456",
		"questions":2,
		"finishedAt":1700000000000,
		"standings":[{"id":"a","name":"alice","score":1250}]
	}}`, msg.Payload)
}

type fakeArchive map[string]*archive.Results

func (f fakeArchive) GetResults(_ context.Context, pin string) (*archive.Results, error) {
	if r, ok := f[pin]; ok {
		return r, nil
	}
	return nil, errors.NotFound("no archived results for game %s", pin)
}

type options func(c *api.Config)

func withArchive(a api.Archive) options {
	return func(c *api.Config) {
		c.Archive = a
	}
}

func withRedis(r api.Redis, prefix string) options {
	return func(c *api.Config) {
		c.Redis = r
		c.PubsubPrefix = prefix
	}
}

func makeAPI(t *testing.T, opts ...options) (*gin.Engine, *game.Registry, *event.Bus) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	reg := game.NewRegistry(game.Config{EventBus: eb})
	hb := hub.New(hub.Config{})

	c := api.Config{
		Engine:   gin.New(),
		EventBus: eb,
		Registry: reg,
		Hub:      hb,
		Gateway: gateway.New(gateway.Config{
			Registry: reg,
			Bus:      hb,
			EventBus: eb,
		}),
	}
	for _, opt := range opts {
		opt(&c)
	}

	api.New(c)
	return c.Engine, reg, eb
}

func createSession(t *testing.T, reg *game.Registry) string {
	t.Helper()

	pin, err := reg.Create(context.Background(), []domain.Question{
		{Question: "q1", Options: []string{"a", "b", "c", "d"}, CorrectIndex: 0},
		{Question: "q2", Options: []string{"a", "b", "c", "d"}, CorrectIndex: 1},
	}, 20)
	require.NoError(t, err)
	return pin
}

func get(e *gin.Engine, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, code errors.Code) {
	t.Helper()

	assert.Equal(t, status, rec.Code)

	var e errors.Error
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Equal(t, code, e.Code)
	assert.NotEmpty(t, e.Message)
}
