package sender

import (
	"context"
	"fmt"

	"github.com/offerpage/offerpage/internal/dispatch"
)

// Router picks a sender by payload channel.
type Router struct {
	routes map[dispatch.Channel]dispatch.Sender
}

func NewRouter() *Router {
	return &Router{routes: make(map[dispatch.Channel]dispatch.Sender)}
}

// Handle registers s for channel, replacing any previous sender.
func (r *Router) Handle(channel dispatch.Channel, s dispatch.Sender) *Router {
	r.routes[channel] = s
	return r
}

func (r *Router) Send(ctx context.Context, p dispatch.Payload) error {
	s, ok := r.routes[p.Channel]
	if !ok {
		return fmt.Errorf("no sender configured for %s", p.Channel)
	}
	return s.Send(ctx, p)
}
