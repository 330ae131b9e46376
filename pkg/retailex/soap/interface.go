package soap

import (
	"context"

	"github.com/antchfx/xmlquery"
)

// Caller defines the operations gateways need from a transport client
type Caller interface {
	// Call performs one logical call and returns the parsed soap:Body content
	Call(ctx context.Context, operation string, payload Fields) (*xmlquery.Node, error)
}

var _ Caller = (*Client)(nil)
