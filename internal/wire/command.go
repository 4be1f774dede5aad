package wire

import (
	"fmt"
	"math"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/cage-sim/cageclient/pkg/core"
)

// Request types understood by the command endpoint.
const (
	TypeConsole      = "Console"
	TypeActorMsg     = "ActorMsg"
	TypeListEndpoint = "ListEndpoint"
	TypeGetActorMeta = "GetActorMeta"
)

// Actor command types.
const (
	CmdRPM = "RPM"
	CmdVW  = "VW"
)

// Fixed is a float that always encodes in plain decimal notation.
type Fixed float64

// MarshalJSON implements json.Marshaler.
func (f Fixed) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("cannot encode %v", v)
	}
	return strconv.AppendFloat(nil, v, 'f', -1, 64), nil
}

type rpmCommand struct {
	CmdType string `json:"CmdType"`
	L       Fixed  `json:"L"`
	R       Fixed  `json:"R"`
}

type vwCommand struct {
	CmdType string `json:"CmdType"`
	V       Fixed  `json:"V"`
	W       Fixed  `json:"W"`
}

type flwCommand struct {
	CmdType string `json:"CmdType"`
	V       Fixed  `json:"V"`
	L       Fixed  `json:"L"`
	W       Fixed  `json:"W"`
}

// EncodeRPM builds a wheel speed command.
func EncodeRPM(left, right float64) ([]byte, error) {
	return encode("RPM command", rpmCommand{CmdType: CmdRPM, L: Fixed(left), R: Fixed(right)})
}

// EncodeVW builds a body velocity command from m/s and rad/s.
func EncodeVW(v, w float64) ([]byte, error) {
	return encode("VW command", vwCommand{
		CmdType: CmdVW,
		V:       Fixed(toWireLength(v)),
		W:       Fixed(toWireAngularRate(w)),
	})
}

// EncodeFLW builds a body velocity command with a lateral component.
// forward and left are m/s, w is rad/s.
func EncodeFLW(forward, left, w float64) ([]byte, error) {
	return encode("FLW command", flwCommand{
		CmdType: CmdVW,
		V:       Fixed(toWireLength(forward)),
		L:       Fixed(toWireLength(left)),
		W:       Fixed(toWireAngularRate(w)),
	})
}

type consoleRequest struct {
	Type  string `json:"Type"`
	Input string `json:"Input"`
}

type endpointRequest struct {
	Type     string `json:"Type"`
	Endpoint string `json:"Endpoint"`
}

type listRequest struct {
	Type string `json:"Type"`
	Tag  string `json:"Tag"`
}

// ConsoleRequest builds a console command request.
func ConsoleRequest(input string) ([]byte, error) {
	return encode("console request", consoleRequest{Type: TypeConsole, Input: input})
}

// ActorMessageHeader builds the first frame of an actor message. The command
// body follows as a second frame.
func ActorMessageHeader(endpoint string) ([]byte, error) {
	return encode("actor message header", endpointRequest{Type: TypeActorMsg, Endpoint: endpoint})
}

// ListEndpointRequest builds a request listing every endpoint carrying tag.
func ListEndpointRequest(tag string) ([]byte, error) {
	return encode("list request", listRequest{Type: TypeListEndpoint, Tag: tag})
}

// ActorMetaRequest builds a metadata request for endpoint.
func ActorMetaRequest(endpoint string) ([]byte, error) {
	return encode("metadata request", endpointRequest{Type: TypeGetActorMeta, Endpoint: endpoint})
}

// ResultText decodes a {"Result": "..."} response.
func ResultText(resp []byte) (string, error) {
	v, err := result(resp)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", unexpected(resp)
	}
	return s, nil
}

// ResultList decodes a {"Result": ["...", ...]} response.
func ResultList(resp []byte) ([]string, error) {
	v, err := result(resp)
	if err != nil {
		return nil, err
	}
	items, ok := v.([]any)
	if !ok {
		return nil, unexpected(resp)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, unexpected(resp)
		}
		out = append(out, s)
	}
	return out, nil
}

// ResultObject decodes a {"Result": {...}} response.
func ResultObject(resp []byte) (Object, error) {
	v, err := result(resp)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, unexpected(resp)
	}
	return Object(m), nil
}

func result(resp []byte) (any, error) {
	obj, err := Parse(resp)
	if err != nil {
		return nil, err
	}
	v, ok, err := obj.Lookup("Result")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, unexpected(resp)
	}
	return v, nil
}

func unexpected(resp []byte) error {
	return core.NewError(core.ErrProtocol, "decode", "unexpected response: "+quote(resp), nil)
}

func encode(what string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, core.NewError(core.ErrProtocol, "encode", what, err)
	}
	return data, nil
}
