package chainclient

import (
	"context"
	"errors"

	"github.com/alloylabs/blockrecorder/internal/types"
)

// Errors returned by ChainClient implementations. Callers branch on these with
// errors.Is; all three are transient from the ingestion loop's point of view.
var (
	// ErrUnreachable covers connection failures and request timeouts.
	ErrUnreachable = errors.New("chain endpoint unreachable")
	// ErrMalformedResponse covers responses that cannot be parsed into an
	// integer height and a hash string.
	ErrMalformedResponse = errors.New("malformed chain response")
	// ErrBlockNotFound means the node reported that the requested height does
	// not exist, e.g. a fetch raced ahead of the chain tip.
	ErrBlockNotFound = errors.New("block not found")
)

// ChainClient performs typed, idempotent requests against a remote node.
type ChainClient interface {
	// Height returns the node's current chain tip.
	Height(ctx context.Context) (uint64, error)

	// BlockByHeight returns the header recorded at exactly the given height.
	BlockByHeight(ctx context.Context, height uint64) (types.BlockRecord, error)
}
