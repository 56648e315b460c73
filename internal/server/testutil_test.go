package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"ludo/internal/engine"
	"ludo/internal/game"
	"ludo/internal/session"
	"ludo/internal/settlement"
	"ludo/internal/storage"
)

// --- Test environment ---

type testEnv struct {
	ts      *httptest.Server
	store   *storage.Store
	mirrors *session.Registry
	dice    *queueDice
	clock   *testClock
	archive *memArchive
}

// memArchive keeps archived matches in memory.
type memArchive struct {
	mu      sync.Mutex
	matches map[string]*game.Match
}

func (a *memArchive) Archive(_ context.Context, m *game.Match) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.matches[m.ID] = m.Clone()
	return nil
}

func (a *memArchive) Load(_ context.Context, id string) (*game.Match, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.matches[id]
	if !ok {
		return nil, game.ErrMatchNotFound
	}
	return m.Clone(), nil
}

// queueDice returns queued values, then 1 forever.
type queueDice struct {
	mu     sync.Mutex
	values []int
}

func (d *queueDice) push(vs ...int) {
	d.mu.Lock()
	d.values = append(d.values, vs...)
	d.mu.Unlock()
}

func (d *queueDice) Roll() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.values) == 0 {
		return 1, nil
	}
	v := d.values[0]
	d.values = d.values[1:]
	return v, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	tiers := game.NewRegistry()
	tiers.Register(game.Tier{Name: "bronze", EntryFee: 100, PrizePool: 200, MinPlayers: 1, MaxPlayers: 4})
	tiers.Register(game.Tier{Name: "silver", EntryFee: 500, PrizePool: 1000, MinPlayers: 2, MaxPlayers: 4})

	env := &testEnv{
		store:   store,
		mirrors: session.NewRegistry(),
		dice:    &queueDice{},
		clock:   &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		archive: &memArchive{matches: map[string]*game.Match{}},
	}
	svc := engine.New(engine.Options{
		Store:    store,
		Tiers:    tiers,
		Settler:  settlement.NewSettler(store, store, settlement.Options{Now: env.clock.Now}),
		Mirror:   env.mirrors,
		Archiver: env.archive,
		Dice:     env.dice,
		Now:      env.clock.Now,
	})
	env.ts = httptest.NewServer(New(Options{
		Engine:  svc,
		Mirrors: env.mirrors,
		Wallets: store,
		Archive: env.archive,
	}))
	t.Cleanup(env.ts.Close)
	return env
}

// --- Context helpers ---

func timeoutCtx(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// --- REST API helpers ---

// post sends body as JSON and decodes the response into out when out is non-nil.
func post(t *testing.T, ts *httptest.Server, path, body string, out any) int {
	t.Helper()
	resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func get(t *testing.T, ts *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func createMatchViaAPI(t *testing.T, ts *httptest.Server, tier string, players ...string) *game.Match {
	t.Helper()
	ids, _ := json.Marshal(players)
	var m game.Match
	if code := post(t, ts, "/api/matches", fmt.Sprintf(`{"tier":%q,"playerIds":%s}`, tier, ids), &m); code != http.StatusCreated {
		t.Fatalf("create match: expected 201, got %d", code)
	}
	return &m
}

func startedMatch(t *testing.T, ts *httptest.Server, players ...string) *game.Match {
	t.Helper()
	m := createMatchViaAPI(t, ts, "bronze", players...)
	var started game.Match
	if code := post(t, ts, "/api/matches/"+m.ID+"/start", playerBody(players[0]), &started); code != http.StatusOK {
		t.Fatalf("start match: expected 200, got %d", code)
	}
	return &started
}

func playerBody(playerID string) string {
	return fmt.Sprintf(`{"playerId":%q}`, playerID)
}

// --- WebSocket helpers ---

func wsURL(ts *httptest.Server, matchID string) string {
	return strings.Replace(ts.URL, "http://", "ws://", 1) + "/api/matches/" + matchID + "/ws"
}

// wsConnect dials a WebSocket, sends a join message, and returns the connection.
// The caller is responsible for closing the connection.
func wsConnect(t *testing.T, ts *httptest.Server, matchID, playerID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := timeoutCtx(t)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(ts, matchID), nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	wsSend(ctx, t, conn, "join", joinPayload{PlayerID: playerID})
	return conn
}

func wsSend(ctx context.Context, t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	if err := conn.Write(ctx, websocket.MessageText, session.Encode(msgType, payload)); err != nil {
		t.Fatalf("ws write: %v", err)
	}
}

// wsRead reads and unmarshals a WebSocket message, calling t.Fatal on error.
func wsRead(ctx context.Context, t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal ws message: %v", err)
	}
	return msg
}

// readMirror reads one message and expects it to be a mirror.
func readMirror(ctx context.Context, t *testing.T, conn *websocket.Conn) session.Mirror {
	t.Helper()
	msg := wsRead(ctx, t, conn)
	if msg.Type != "mirror" {
		t.Fatalf("expected mirror message, got %q: %s", msg.Type, string(msg.Payload))
	}
	var m session.Mirror
	if err := json.Unmarshal(msg.Payload, &m); err != nil {
		t.Fatalf("unmarshal mirror: %v", err)
	}
	return m
}

// readError reads a WebSocket message and expects it to be an "error" message.
func readError(ctx context.Context, t *testing.T, conn *websocket.Conn) errorPayload {
	t.Helper()
	msg := wsRead(ctx, t, conn)
	if msg.Type != "error" {
		t.Fatalf("expected error message, got %q: %s", msg.Type, string(msg.Payload))
	}
	var ep errorPayload
	if err := json.Unmarshal(msg.Payload, &ep); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	return ep
}
