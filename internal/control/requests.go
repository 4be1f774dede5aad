package control

import (
	"github.com/cage-sim/cageclient/internal/wire"
)

// ExecConsoleCommand runs a console command on the server and returns its
// textual result.
func (c *Channel) ExecConsoleCommand(cmd string) (string, error) {
	req, err := wire.ConsoleRequest(cmd)
	if err != nil {
		return "", err
	}
	resp, err := c.Request(req)
	if err != nil {
		return "", err
	}
	return wire.ResultText(resp)
}

// SendActorMessage delivers body to the actor behind endpoint.
func (c *Channel) SendActorMessage(endpoint string, body []byte) (string, error) {
	header, err := wire.ActorMessageHeader(endpoint)
	if err != nil {
		return "", err
	}
	resp, err := c.Submit(header, body)
	if err != nil {
		return "", err
	}
	return wire.ResultText(resp)
}

// ListEndpoints returns the ids of every endpoint carrying tag.
func (c *Channel) ListEndpoints(tag string) ([]string, error) {
	req, err := wire.ListEndpointRequest(tag)
	if err != nil {
		return nil, err
	}
	resp, err := c.Request(req)
	if err != nil {
		return nil, err
	}
	return wire.ResultList(resp)
}

// ActorMetadata fetches the metadata object of endpoint.
func (c *Channel) ActorMetadata(endpoint string) (wire.Object, error) {
	req, err := wire.ActorMetaRequest(endpoint)
	if err != nil {
		return nil, err
	}
	resp, err := c.Request(req)
	if err != nil {
		return nil, err
	}
	return wire.ResultObject(resp)
}
