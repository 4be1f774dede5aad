package wire

import (
	"math"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cage-sim/cageclient/pkg/core"
)

func decodeMap(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestEncodeRPM(t *testing.T) {
	data, err := EncodeRPM(100, -100)
	require.NoError(t, err)

	assert.JSONEq(t, `{"CmdType":"RPM","R":-100,"L":100}`, string(data))
}

func TestEncodeVW_ConvertsUnits(t *testing.T) {
	data, err := EncodeVW(1.0, math.Pi)
	require.NoError(t, err)

	m := decodeMap(t, data)
	assert.Equal(t, "VW", m["CmdType"])
	assert.InDelta(t, 100.0, m["V"], 1e-9)
	assert.InDelta(t, 180.0, m["W"], 1e-9)
	assert.NotContains(t, m, "L")
}

func TestEncodeFLW(t *testing.T) {
	data, err := EncodeFLW(0.5, 0, math.Pi/2)
	require.NoError(t, err)

	m := decodeMap(t, data)
	assert.Equal(t, "VW", m["CmdType"])
	assert.InDelta(t, 50.0, m["V"], 1e-9)
	assert.InDelta(t, 0.0, m["L"], 1e-9)
	assert.InDelta(t, 90.0, m["W"], 1e-9)
}

func TestFixed_NeverUsesExponent(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1e21, "1000000000000000000000"},
		{0.0000001, "0.0000001"},
		{-12.5, "-12.5"},
		{0, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			data, err := Fixed(tt.in).MarshalJSON()
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}

	_, err := EncodeRPM(math.NaN(), 0)
	assert.ErrorIs(t, err, core.ErrProtocol)
}

func TestRequests(t *testing.T) {
	console, err := ConsoleRequest("stat fps")
	require.NoError(t, err)
	assert.JSONEq(t, `{"Type":"Console","Input":"stat fps"}`, string(console))

	header, err := ActorMessageHeader("Rover_C_1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"Type":"ActorMsg","Endpoint":"Rover_C_1"}`, string(header))

	list, err := ListEndpointRequest("Vehicle")
	require.NoError(t, err)
	assert.JSONEq(t, `{"Type":"ListEndpoint","Tag":"Vehicle"}`, string(list))

	meta, err := ActorMetaRequest("Rover_C_1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"Type":"GetActorMeta","Endpoint":"Rover_C_1"}`, string(meta))
}

func TestResultDecoders(t *testing.T) {
	text, err := ResultText([]byte(`{"Result":"OK"}`))
	require.NoError(t, err)
	assert.Equal(t, "OK", text)

	list, err := ResultList([]byte(`{"result":["A","B"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, list)

	obj, err := ResultObject([]byte(`{"Result":{"TreadWidth":30}}`))
	require.NoError(t, err)
	v, ok, err := obj.Number("treadwidth")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 30.0, v)
}

func TestResultDecoders_Errors(t *testing.T) {
	tests := []struct {
		name string
		fn   func([]byte) error
		resp string
	}{
		{"text missing result", func(b []byte) error { _, err := ResultText(b); return err }, `{"Error":"x"}`},
		{"text wrong type", func(b []byte) error { _, err := ResultText(b); return err }, `{"Result":3}`},
		{"list not array", func(b []byte) error { _, err := ResultList(b); return err }, `{"Result":"A"}`},
		{"list non-string item", func(b []byte) error { _, err := ResultList(b); return err }, `{"Result":["A",1]}`},
		{"object wrong type", func(b []byte) error { _, err := ResultObject(b); return err }, `{"Result":[]}`},
		{"malformed", func(b []byte) error { _, err := ResultText(b); return err }, `{"Result":`},
		{"not an object", func(b []byte) error { _, err := ResultText(b); return err }, `["Result"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn([]byte(tt.resp))
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrProtocol)
		})
	}
}

func TestObject_AmbiguousKey(t *testing.T) {
	obj, err := Parse([]byte(`{"Name":"a","name":"b","Other":1}`))
	require.NoError(t, err)

	_, _, err = obj.Text("NAME")
	assert.ErrorIs(t, err, core.ErrProtocol)
	assert.Contains(t, err.Error(), "ambiguous")

	v, ok, err := obj.Number("other")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)
}

func TestDecode60(t *testing.T) {
	assert.InDelta(t, 35.5083333333, Decode60(35, 30, 30), 1e-9)
	assert.Equal(t, 0.0, Decode60(0, 0, 0))
}
