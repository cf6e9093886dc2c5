package channel

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/runnerr0/dwell/internal/logging"
	"github.com/runnerr0/dwell/internal/pageview"
)

// SeenCacheSize bounds how many envelope IDs the router remembers.
const SeenCacheSize = 1024

// Handler consumes decoded messages. Implementations must tolerate
// duplicate and out-of-order delivery.
type Handler interface {
	HandleActivated(ctx context.Context, tabID int, msg Activated) error
	HandleSessionDelta(ctx context.Context, tabID int, msg SessionDelta) error
	HandleTabClosed(ctx context.Context, tabID int, ts int64) error
	Settings(ctx context.Context) (pageview.UserSettings, error)
}

// Router decodes envelopes and dispatches them to a Handler. A redelivered
// envelope gets the first response back without reaching the handler.
type Router struct {
	handler Handler
	logger  *slog.Logger
	seen    *lru.Cache[string, Response]
}

// NewRouter returns a Router for h.
func NewRouter(h Handler, logger *slog.Logger) *Router {
	seen, _ := lru.New[string, Response](SeenCacheSize)
	return &Router{
		handler: h,
		logger:  logging.OrDiscard(logger).With("component", "router"),
		seen:    seen,
	}
}

// Dispatch handles one envelope.
func (r *Router) Dispatch(ctx context.Context, env Envelope) Response {
	if env.ID != "" {
		if resp, ok := r.seen.Get(env.ID); ok {
			r.logger.Debug("duplicate envelope", "id", env.ID, "type", env.Type)
			return resp
		}
	}

	resp := r.dispatch(ctx, env)
	if !resp.OK {
		r.logger.Warn("message rejected", "id", env.ID, "type", env.Type, "tab", env.TabID, "error", resp.Error)
	}
	if env.ID != "" && env.Type != TypeSettingsRequest {
		r.seen.Add(env.ID, resp)
	}
	return resp
}

func (r *Router) dispatch(ctx context.Context, env Envelope) Response {
	var err error
	switch env.Type {
	case TypeActivated:
		var msg Activated
		if err = env.Decode(&msg); err == nil {
			err = r.handler.HandleActivated(ctx, env.TabID, msg)
		}
	case TypeSessionDelta:
		var msg SessionDelta
		if err = env.Decode(&msg); err == nil {
			err = r.handler.HandleSessionDelta(ctx, env.TabID, msg)
		}
	case TypeTabClosed:
		var msg TabClosed
		if err = env.Decode(&msg); err == nil {
			err = r.handler.HandleTabClosed(ctx, env.TabID, msg.Timestamp)
		}
	case TypeSettingsRequest:
		s, serr := r.handler.Settings(ctx)
		if serr != nil {
			return Response{Error: serr.Error()}
		}
		return Response{OK: true, Settings: &s}
	default:
		err = fmt.Errorf("unknown message type %q", env.Type)
	}
	if err != nil {
		return Response{Error: err.Error()}
	}
	return Response{OK: true}
}
