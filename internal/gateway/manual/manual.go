package manual

import (
	"context"

	"github.com/voxbill/voxbill/internal/gateway"
	"github.com/voxbill/voxbill/internal/types"
)

const Name = "manual"

// Gateway settles every request synchronously. It backs payment methods
// collected outside the engine, e.g. invoiced enterprise accounts.
type Gateway struct{}

func New() *Gateway {
	return &Gateway{}
}

func (g *Gateway) Name() string {
	return Name
}

func (g *Gateway) Authorize(ctx context.Context, req *gateway.AuthorizeRequest) (*gateway.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return gateway.Succeeded(types.GenerateUUIDWithPrefix("manual")), nil
}
