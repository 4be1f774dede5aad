package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cage-sim/cageclient/pkg/core"
	"github.com/cage-sim/cageclient/pkg/streaming"
)

// testServer upgrades to WebSocket, records every envelope and acks
// start_session and end_session unless ack is false.
func testServer(t *testing.T, ack bool) (*httptest.Server, *messageLog) {
	t.Helper()
	ml := &messageLog{}

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ml.setSecret(r.URL.Query().Get("secret"))
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var env streaming.Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			ml.add(env)

			if ack && (env.Type == streaming.TypeStartSession || env.Type == streaming.TypeEndSession) {
				data, _ := json.Marshal(streaming.AckMessage{Type: streaming.TypeAck, For: env.Type})
				if err := c.WriteMessage(ws.TextMessage, data); err != nil {
					return
				}
			}
		}
	}))
	return srv, ml
}

type messageLog struct {
	mu       sync.Mutex
	messages []streaming.Envelope
	secret   string
}

func (m *messageLog) add(env streaming.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, env)
}

func (m *messageLog) setSecret(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secret = s
}

func (m *messageLog) all() []streaming.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]streaming.Envelope, len(m.messages))
	copy(cp, m.messages)
	return cp
}

func (m *messageLog) ofType(msgType string) []streaming.Envelope {
	var out []streaming.Envelope
	for _, env := range m.all() {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testInfo() core.VehicleInfo {
	return core.VehicleInfo{
		Name:            "Vehicle_A",
		WheelPerimeterL: 0.5,
		WheelPerimeterR: 0.5,
		TreadWidth:      0.4,
		ReductionRatio:  30,
	}
}

func TestStartAndEndSession(t *testing.T) {
	srv, ml := testServer(t, true)
	defer srv.Close()

	r := New(Config{URL: wsURL(srv), Secret: "s3cret"}, nil)
	require.NoError(t, r.Init())
	defer r.Close()

	world := core.WorldInfo{Valid: true, Latitude0: 35, Longitude0: 139}
	require.NoError(t, r.StartSession("sess-1", "Vehicle_A", testInfo(), world))
	require.NoError(t, r.EndSession())

	msgs := ml.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, streaming.TypeStartSession, msgs[0].Type)
	assert.Equal(t, streaming.TypeEndSession, msgs[1].Type)

	var start streaming.StartSessionPayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &start))
	assert.Equal(t, "sess-1", start.SessionID)
	assert.Equal(t, "Vehicle_A", start.Vehicle.Name)
	assert.Equal(t, 30.0, start.Vehicle.ReductionRatio)
	assert.True(t, start.World.Valid)

	assert.Equal(t, "s3cret", ml.secret)
}

func TestPublishStatus(t *testing.T) {
	srv, ml := testServer(t, true)
	defer srv.Close()

	r := New(Config{URL: wsURL(srv)}, nil)
	require.NoError(t, r.Init())
	defer r.Close()

	require.NoError(t, r.StartSession("sess-2", "Vehicle_A", testInfo(), core.WorldInfo{}))

	require.NoError(t, r.PublishStatus(core.VehicleStatus{SimClock: 1, LeftRPM: 10}))
	fix := core.VehicleStatus{SimClock: 2, HasLatLon: true, Latitude: 35, Longitude: 139}
	require.NoError(t, r.PublishStatus(fix))
	fix.SimClock, fix.Latitude = 3, 35+1.0/3600
	require.NoError(t, r.PublishStatus(fix))

	// end_session is queued after the statuses, so its ack orders them.
	require.NoError(t, r.EndSession())

	statuses := ml.ofType(streaming.TypeVehicleStatus)
	require.Len(t, statuses, 3)

	var first, second streaming.VehicleStatusPayload
	require.NoError(t, json.Unmarshal(statuses[0].Payload, &first))
	require.NoError(t, json.Unmarshal(statuses[1].Payload, &second))
	assert.Equal(t, "sess-2", first.SessionID)
	assert.Equal(t, 10.0, first.Status.LeftRPM)
	assert.Empty(t, first.Location)
	assert.Contains(t, string(second.Location), `"Point"`)
	assert.Contains(t, string(second.Location), "139")

	ends := ml.ofType(streaming.TypeEndSession)
	require.Len(t, ends, 1)
	var end streaming.EndSessionPayload
	require.NoError(t, json.Unmarshal(ends[0].Payload, &end))
	assert.InDelta(t, 30.9, end.Distance, 0.3)
	assert.Contains(t, string(end.Track), `"LineString"`)
}

func TestStartSession_AckTimeout(t *testing.T) {
	srv, _ := testServer(t, false)
	defer srv.Close()

	r := New(Config{URL: wsURL(srv)}, nil)
	require.NoError(t, r.Init())
	defer r.Close()

	data, err := envelope(streaming.TypeStartSession, streaming.StartSessionPayload{SessionID: "x"})
	require.NoError(t, err)

	start := time.Now()
	err = r.conn.sendAndWait(data, streaming.TypeStartSession, 100*time.Millisecond)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSendAndWait_Closed(t *testing.T) {
	srv, _ := testServer(t, false)
	defer srv.Close()

	r := New(Config{URL: wsURL(srv)}, nil)
	require.NoError(t, r.Init())

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = r.Close()
	}()
	err := r.conn.sendAndWait([]byte(`{}`), streaming.TypeEndSession, 5*time.Second)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, r.Close(), "second close")
}

func TestInit_InvalidURL(t *testing.T) {
	for _, raw := range []string{"http://localhost:1", "://bad"} {
		t.Run(raw, func(t *testing.T) {
			r := New(Config{URL: raw}, nil)
			assert.Error(t, r.Init())
		})
	}
}

func TestInit_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	r := New(Config{URL: url}, nil)
	assert.Error(t, r.Init())
}

func TestReconnectReplaysStart(t *testing.T) {
	var (
		mu    sync.Mutex
		conns []*ws.Conn
		seen  []string
	)
	upgrader := ws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		conns = append(conns, c)
		mu.Unlock()
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var env streaming.Envelope
			if json.Unmarshal(msg, &env) != nil {
				continue
			}
			mu.Lock()
			seen = append(seen, env.Type)
			mu.Unlock()
			if env.Type == streaming.TypeStartSession {
				data, _ := json.Marshal(streaming.AckMessage{Type: streaming.TypeAck, For: env.Type})
				_ = c.WriteMessage(ws.TextMessage, data)
			}
		}
	}))
	defer srv.Close()

	r := New(Config{URL: wsURL(srv)}, nil)
	r.conn.backoff = 10 * time.Millisecond
	require.NoError(t, r.Init())
	defer r.Close()
	require.NoError(t, r.StartSession("sess-3", "Vehicle_A", testInfo(), core.WorldInfo{}))

	// Drop the server side of the first connection.
	mu.Lock()
	_ = conns[0].Close()
	mu.Unlock()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		starts := 0
		for _, s := range seen {
			if s == streaming.TypeStartSession {
				starts++
			}
		}
		return len(conns) == 2 && starts == 2
	}, 3*time.Second, 10*time.Millisecond)
}

func TestAttach_AfterCloseClosesConn(t *testing.T) {
	srv, _ := testServer(t, false)
	defer srv.Close()

	r := New(Config{URL: wsURL(srv)}, nil)
	require.NoError(t, r.Close())

	w, _, err := ws.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)

	assert.False(t, r.conn.attach(w))
	assert.Error(t, w.WriteMessage(ws.TextMessage, []byte(`{}`)), "redialed conn must be closed")

	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	assert.Nil(t, r.conn.ws)
}
