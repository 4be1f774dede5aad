package cage

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cage-sim/cageclient/internal/transport"
	"github.com/cage-sim/cageclient/internal/transport/transporttest"
	"github.com/cage-sim/cageclient/pkg/core"
)

// fakeServer answers command requests like the simulator does.
type fakeServer struct {
	mu       sync.Mutex
	vehicles []string
	geo      []string
	meta     map[string]string
	commands []actorMessage
	requests []string
}

type actorMessage struct {
	Endpoint string
	Body     map[string]any
}

const roverMeta = `{
	"TreadWidth": 40, "WheelPerimeterL": 60, "WheelPerimeterR": 60, "ReductionRatio": 20,
	"Transform-lidar": {"translation":{"x":10,"y":20,"z":30},"rotation":{"w":1,"x":0,"y":0,"z":0}}
}`

const geoMeta = `{
	"GeoLocation": {"latitude":{"x":35,"y":30,"z":0},"longitude":{"x":139,"y":30,"z":0}},
	"Transform": {"translation":{"x":0,"y":0,"z":0},"rotation":{"w":1,"x":0,"y":0,"z":0}}
}`

func newFakeServer() *fakeServer {
	return &fakeServer{
		vehicles: []string{"Truck_C_0", "Rover_C_1", "Rover_C_2"},
		geo:      []string{},
		meta:     map[string]string{"Rover_C_1": roverMeta, "Truck_C_0": `{}`},
	}
}

func (f *fakeServer) handle(frames [][]byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var req map[string]string
	if err := json.Unmarshal(frames[0], &req); err != nil {
		return nil, err
	}
	f.requests = append(f.requests, req["Type"])

	switch req["Type"] {
	case "ListEndpoint":
		list := f.vehicles
		if req["Tag"] == GeoReferenceTag {
			list = f.geo
		}
		return json.Marshal(map[string]any{"Result": list})
	case "GetActorMeta":
		m, ok := f.meta[req["Endpoint"]]
		if !ok {
			return nil, nil // no reply: receive times out
		}
		return []byte(`{"Result":` + m + `}`), nil
	case "ActorMsg":
		var body map[string]any
		if err := json.Unmarshal(frames[1], &body); err != nil {
			return nil, err
		}
		f.commands = append(f.commands, actorMessage{Endpoint: req["Endpoint"], Body: body})
		return []byte(`{"Result":"OK"}`), nil
	case "Console":
		return []byte(`{"Result":"ran ` + req["Input"] + `"}`), nil
	}
	return nil, errors.New("unknown request")
}

func (f *fakeServer) lastCommand(t *testing.T) actorMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.commands)
	return f.commands[len(f.commands)-1]
}

func newTestSession(t *testing.T, srv *fakeServer, cfg Config) (*Session, *transporttest.Context) {
	t.Helper()
	fake := transporttest.NewContext(srv.handle)
	if cfg.Server == "" {
		cfg.Server = "sim.local/Rover"
	}
	s := New(cfg, WithTransport(fake.Factory()))
	t.Cleanup(func() { _ = s.Close() })
	return s, fake
}

func connected(t *testing.T, srv *fakeServer) (*Session, *transporttest.Context) {
	t.Helper()
	s, fake := newTestSession(t, srv, Config{})
	require.NoError(t, s.Connect())
	return s, fake
}

func TestConnect_SelectsVehicleAndLoadsMetadata(t *testing.T) {
	s, fake := connected(t, newFakeServer())

	assert.Equal(t, Connected, s.State())
	assert.Equal(t, "Rover_C_1", s.Endpoint())
	assert.Empty(t, s.LastError())

	info := s.VehicleInfo()
	assert.Equal(t, "Rover_C_1", info.Name)
	assert.Equal(t, 0.4, info.TreadWidth)
	assert.Equal(t, 0.6, info.WheelPerimeterL)
	assert.Equal(t, 20.0, info.ReductionRatio)
	assert.Equal(t, core.Vector3{X: 0.1, Y: -0.2, Z: 0.3}, info.Transforms["lidar"].Translation)

	assert.False(t, s.WorldInfo().Valid)

	require.Len(t, fake.Requesters(), 1)
	assert.Equal(t, "tcp://sim.local:54323", fake.Requesters()[0].Addr())
	require.Len(t, fake.Subscribers(), 1)
	assert.Equal(t, "tcp://sim.local:54321", fake.Subscribers()[0].Addr())
}

func TestConnect_EmptyListing(t *testing.T) {
	srv := newFakeServer()
	srv.vehicles = nil
	s, fake := newTestSession(t, srv, Config{})

	err := s.Connect()
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNoMatch)
	assert.Equal(t, Disconnected, s.State())
	assert.NotEmpty(t, s.LastError())
	assert.True(t, fake.Closed())
	assert.True(t, fake.Requesters()[0].IsClosed())
	assert.Empty(t, fake.Subscribers())
	assertReset(t, s)
}

// assertReset checks that no vehicle or world state survived.
func assertReset(t *testing.T, s *Session) {
	t.Helper()
	assert.Empty(t, s.Endpoint())
	assert.Equal(t, core.WorldInfo{}, s.WorldInfo())
	info := s.VehicleInfo()
	assert.Empty(t, info.Name)
	assert.Zero(t, info.TreadWidth)
	assert.Zero(t, info.ReductionRatio)
}

func TestConnect_NoGeoReference(t *testing.T) {
	srv := newFakeServer()
	s, _ := connected(t, srv)

	assert.Equal(t, core.WorldInfo{}, s.WorldInfo())
	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, []string{"ListEndpoint", "ListEndpoint", "GetActorMeta"}, srv.requests)
}

func TestConnect_NoMatchingName(t *testing.T) {
	s, _ := newTestSession(t, newFakeServer(), Config{Server: "sim.local/Drone"})

	err := s.Connect()
	assert.ErrorIs(t, err, core.ErrNoMatch)
	assert.Contains(t, s.LastError(), "Drone")
	assert.Equal(t, Disconnected, s.State())
}

func TestConnect_EmptyNameSelectsFirst(t *testing.T) {
	s, _ := newTestSession(t, newFakeServer(), Config{Server: "sim.local"})

	require.NoError(t, s.Connect())
	assert.Equal(t, "Truck_C_0", s.Endpoint())
}

func TestConnect_VehicleOverridesPeer(t *testing.T) {
	s, _ := newTestSession(t, newFakeServer(), Config{Server: "sim.local/Truck", Vehicle: "Rover_C_2"})

	err := s.Connect()
	assert.ErrorIs(t, err, core.ErrMetadataUnavailable)
	assert.Equal(t, "Rover_C_2", s.Endpoint())
}

func TestConnect_GeoReference(t *testing.T) {
	srv := newFakeServer()
	srv.geo = []string{"GeoRef_1", "GeoRef_2"}
	srv.meta["GeoRef_1"] = geoMeta
	s, _ := connected(t, srv)

	world := s.WorldInfo()
	assert.True(t, world.Valid)
	assert.InDelta(t, 35.5, world.Latitude0, 1e-12)
	assert.InDelta(t, 139.5, world.Longitude0, 1e-12)
}

func TestConnect_GeoReferenceFailureIsNotFatal(t *testing.T) {
	t.Run("metadata", func(t *testing.T) {
		srv := newFakeServer()
		srv.geo = []string{"GeoRef_1"} // no metadata: request times out
		s, _ := connected(t, srv)

		assert.Equal(t, Connected, s.State())
		assert.False(t, s.WorldInfo().Valid)
	})

	t.Run("listing", func(t *testing.T) {
		srv := newFakeServer()
		srv.geo = nil // {"Result":null}
		s, _ := connected(t, srv)

		assert.Equal(t, Connected, s.State())
		assert.False(t, s.WorldInfo().Valid)
	})
}

func TestConnect_MetadataUnavailable(t *testing.T) {
	t.Run("lenient", func(t *testing.T) {
		srv := newFakeServer()
		delete(srv.meta, "Rover_C_1")
		s, fake := newTestSession(t, srv, Config{})

		err := s.Connect()
		assert.ErrorIs(t, err, core.ErrMetadataUnavailable)
		assert.Equal(t, Connected, s.State())
		assert.NotEmpty(t, s.LastError())
		assert.Equal(t, core.ErrMetadataUnavailable, core.KindOf(err))
		assert.False(t, fake.Closed())
		assert.NoError(t, s.SetVW(0, 0))
	})

	t.Run("required", func(t *testing.T) {
		srv := newFakeServer()
		delete(srv.meta, "Rover_C_1")
		srv.geo = []string{"GeoRef_1"}
		srv.meta["GeoRef_1"] = geoMeta
		s, fake := newTestSession(t, srv, Config{RequireMetadata: true})

		err := s.Connect()
		assert.ErrorIs(t, err, core.ErrMetadataUnavailable)
		assert.Equal(t, core.ErrMetadataUnavailable, core.KindOf(err))
		assert.Equal(t, Disconnected, s.State())
		assert.True(t, fake.Closed())
		assert.True(t, fake.Subscribers()[0].IsClosed())
		assertReset(t, s)
	})

	t.Run("malformed", func(t *testing.T) {
		srv := newFakeServer()
		srv.meta["Rover_C_1"] = `{"TreadWidth":"wide"}`
		s, _ := newTestSession(t, srv, Config{})

		err := s.Connect()
		assert.ErrorIs(t, err, core.ErrMetadataUnavailable)
		assert.ErrorIs(t, err, core.ErrProtocol)
	})
}

func TestConnect_TransportFailure(t *testing.T) {
	fake := transporttest.NewContext(newFakeServer().handle)
	fake.FailSubscriber = errors.New("no subscriber")
	s := New(Config{Server: "sim.local/Rover"}, WithTransport(fake.Factory()))

	err := s.Connect()
	assert.ErrorIs(t, err, core.ErrTransport)
	assert.Equal(t, Disconnected, s.State())
	assert.True(t, fake.Closed())
	assert.True(t, fake.Requesters()[0].IsClosed())

	s = New(Config{Server: "sim.local"}, WithTransport(func() (transport.Context, error) {
		return nil, errors.New("libzmq missing")
	}))
	assert.ErrorIs(t, s.Connect(), core.ErrTransport)
}

func TestConnect_InvalidConfig(t *testing.T) {
	s, _ := newTestSession(t, newFakeServer(), Config{Server: "/Rover"})
	assert.ErrorIs(t, s.Connect(), core.ErrConfig)
	assert.Equal(t, Disconnected, s.State())
}

func TestReconnect_ResetsVehicleInfo(t *testing.T) {
	srv := newFakeServer()
	s, fake := connected(t, srv)
	require.Contains(t, s.VehicleInfo().Transforms, "lidar")

	srv.mu.Lock()
	srv.meta["Rover_C_1"] = `{"TreadWidth": 50}`
	srv.mu.Unlock()

	require.NoError(t, s.Connect())
	info := s.VehicleInfo()
	assert.Equal(t, 0.5, info.TreadWidth)
	assert.NotContains(t, info.Transforms, "lidar")
	assert.True(t, fake.Subscribers()[0].IsClosed())
	assert.False(t, fake.Subscribers()[1].IsClosed())
}

func TestSetDefaultTransform(t *testing.T) {
	srv := newFakeServer()
	s, _ := newTestSession(t, srv, Config{})

	gnss := core.Transform{Translation: core.Vector3{Z: 1}, Rotation: core.IdentityQuaternion}
	s.SetDefaultTransform("gnss", gnss)
	s.SetDefaultTransform("lidar", gnss)
	require.NoError(t, s.Connect())

	info := s.VehicleInfo()
	assert.Equal(t, gnss, info.Transforms["gnss"])
	assert.NotEqual(t, gnss, info.Transforms["lidar"])

	camera := core.Transform{Rotation: core.IdentityQuaternion}
	s.SetDefaultTransform("camera", camera)
	assert.Equal(t, camera, s.VehicleInfo().Transforms["camera"])
}

func TestCommands(t *testing.T) {
	srv := newFakeServer()
	s, _ := connected(t, srv)

	require.NoError(t, s.SetVelocityComponents(0.5, 0, math.Pi/2))
	cmd := srv.lastCommand(t)
	assert.Equal(t, "Rover_C_1", cmd.Endpoint)
	assert.Equal(t, "VW", cmd.Body["CmdType"])
	assert.InDelta(t, 50.0, cmd.Body["V"], 1e-9)
	assert.InDelta(t, 0.0, cmd.Body["L"], 1e-9)
	assert.InDelta(t, 90.0, cmd.Body["W"], 1e-9)

	require.NoError(t, s.SetRPM(100, -100))
	cmd = srv.lastCommand(t)
	assert.Equal(t, map[string]any{"CmdType": "RPM", "L": 100.0, "R": -100.0}, cmd.Body)

	require.NoError(t, s.SetVW(0.2, 0))
	cmd = srv.lastCommand(t)
	assert.InDelta(t, 20.0, cmd.Body["V"], 1e-9)

	stats := s.Stats()
	assert.Equal(t, int64(3), stats.CommandsSent)
	assert.Zero(t, stats.CommandErrors)
}

func TestCommands_NotConnected(t *testing.T) {
	s, _ := newTestSession(t, newFakeServer(), Config{})

	err := s.SetRPM(1, 1)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Contains(t, s.LastError(), "not connected")

	_, err = s.Poll(time.Millisecond)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestExecConsoleAndListing(t *testing.T) {
	srv := newFakeServer()
	srv.geo = []string{"GeoRef_1"}
	srv.meta["GeoRef_1"] = geoMeta
	s, _ := connected(t, srv)

	out, err := s.ExecConsole("stat fps")
	require.NoError(t, err)
	assert.Equal(t, "ran stat fps", out)

	ids, err := s.ListEndpoints(GeoReferenceTag)
	require.NoError(t, err)
	assert.Equal(t, []string{"GeoRef_1"}, ids)

	meta, err := s.ActorMetadata("GeoRef_1")
	require.NoError(t, err)
	assert.Contains(t, meta, "GeoLocation")
}

func TestReceiveStatus(t *testing.T) {
	s, fake := connected(t, newFakeServer())

	var st core.VehicleStatus
	ok, err := s.ReceiveStatus(&st, 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "nothing published yet")

	fake.Publish([]byte(`{"Report":{"Name":"Rover_C_2","Time":1,"Data":{"LeftRpm":99}}}`))
	ok, err = s.ReceiveStatus(&st, BlockForever)
	require.NoError(t, err)
	assert.False(t, ok, "other actor")
	assert.Zero(t, st.LeftRPM)

	fake.Publish([]byte(`{"Report":{"Name":"Rover_C_1","Time":2.5,"Data":{"LeftRpm":30,"RightRpm":-30,"Position":{"X":100,"Y":100,"Z":0}}}}`))
	ok, err = s.ReceiveStatus(&st, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2.5, st.SimClock)
	assert.Equal(t, 30.0, st.LeftRPM)
	assert.Equal(t, core.Vector3{X: 1, Y: -1, Z: 0}, st.Position)

	fake.Publish([]byte(`{"Report":{"Name":"Rover_C_1","Time":3}}`))
	_, err = s.ReceiveStatus(&st, time.Second)
	assert.ErrorIs(t, err, core.ErrProtocol)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.FramesReceived)
	assert.Equal(t, int64(1), stats.FramesFiltered)
	assert.Equal(t, int64(1), stats.DecodeErrors)
}

func TestPoll_InvalidTimeout(t *testing.T) {
	s, _ := connected(t, newFakeServer())

	_, err := s.Poll(0)
	assert.ErrorIs(t, err, core.ErrConfig)
}

func TestClose(t *testing.T) {
	srv := newFakeServer()
	srv.geo = []string{"GeoRef_1"}
	srv.meta["GeoRef_1"] = geoMeta
	s, fake := newTestSession(t, srv, Config{})
	camera := core.Transform{Translation: core.Vector3{X: 0.5}}
	s.SetDefaultTransform("camera", camera)
	require.NoError(t, s.Connect())
	require.True(t, s.WorldInfo().Valid)

	require.NoError(t, s.Close())
	assert.Equal(t, Disconnected, s.State())
	assert.True(t, fake.Closed())
	assertReset(t, s)
	assert.Equal(t, map[string]core.Transform{"camera": camera}, s.VehicleInfo().Transforms)
	require.NoError(t, s.Close())

	var st core.VehicleStatus
	_, err := s.ReceiveStatus(&st, time.Millisecond)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestLastError_ClearedOnSuccess(t *testing.T) {
	s, fake := connected(t, newFakeServer())

	fake.Publish([]byte(`{"Report":{"Name":"Rover_C_1","Time":3}}`))
	var st core.VehicleStatus
	_, err := s.ReceiveStatus(&st, time.Second)
	require.ErrorIs(t, err, core.ErrProtocol)
	require.NotEmpty(t, s.LastError())

	require.NoError(t, s.SetRPM(1, 1))
	assert.Empty(t, s.LastError())

	_, err = s.Poll(0)
	require.Error(t, err)
	require.NotEmpty(t, s.LastError())

	fake.Publish([]byte(`{"Report":{"Name":"Rover_C_1","Time":4,"Data":{"LeftRpm":5}}}`))
	ok, err := s.ReceiveStatus(&st, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, s.LastError())

	_, err = s.Poll(0)
	require.Error(t, err)
	_, err = s.ExecConsole("stat fps")
	require.NoError(t, err)
	assert.Empty(t, s.LastError())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "State(9)", State(9).String())
}
