package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NodeLogger derives a child of the global logger tagged with the node id.
func NodeLogger(node string, sink bool) zerolog.Logger {
	ctx := log.Logger.With().Str("node", node)
	if sink {
		ctx = ctx.Bool("sink", true)
	}
	return ctx.Logger()
}
