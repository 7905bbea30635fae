// Package bot routes chat actions to handlers and renders their replies.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"solana-custody-bot/internal/session"
)

// ErrUnknownAction is returned by Dispatch when no handler matches
var ErrUnknownAction = errors.New("unknown action")

// Request is one user interaction, already stripped of transport detail
type Request struct {
	UserID int64
	ChatID int64
	Action string // e.g. "withdraw" or "set_slippage:300"
	Arg    string // the part after "prefix:" for prefix actions
	Text   string // free text typed by the user
}

// Button is one tappable option under a reply
type Button struct {
	Label  string
	Action string
}

// Reply is what a handler wants shown to the user
type Reply struct {
	Text    string
	Buttons [][]Button
	// DeleteInput asks the transport to remove the user's message (pasted secrets)
	DeleteInput bool
}

// Handler serves one action. The session is locked for the duration of the call.
type Handler func(ctx context.Context, s *session.Session, req Request) (*Reply, error)

type route struct {
	action  string
	handler Handler
}

// Registry is the dispatch table of chat actions. Actions ending in ":" match
// any action with that prefix and receive the remainder as Request.Arg.
type Registry struct {
	routes []route
	exact  map[string]Handler
	prefix map[string]Handler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		exact:  make(map[string]Handler),
		prefix: make(map[string]Handler),
	}
}

// Register adds a handler. Conflicts are reported by Validate, not here, so
// every problem in a table shows up at once.
func (r *Registry) Register(action string, h Handler) {
	r.routes = append(r.routes, route{action: action, handler: h})
	if strings.HasSuffix(action, ":") {
		r.prefix[strings.TrimSuffix(action, ":")] = h
		return
	}
	r.exact[action] = h
}

// Validate rejects empty ids, nil handlers and duplicate ids
func (r *Registry) Validate() error {
	var problems []string
	seen := make(map[string]int)
	for _, rt := range r.routes {
		id := strings.TrimSuffix(rt.action, ":")
		switch {
		case strings.TrimSpace(id) == "":
			problems = append(problems, fmt.Sprintf("empty action id %q", rt.action))
		case strings.Contains(id, ":"):
			problems = append(problems, fmt.Sprintf("action %q contains a separator", rt.action))
		case rt.handler == nil:
			problems = append(problems, fmt.Sprintf("action %q has no handler", rt.action))
		}
		seen[id]++
	}

	var dups []string
	for id, n := range seen {
		if n > 1 && strings.TrimSpace(id) != "" {
			dups = append(dups, id)
		}
	}
	sort.Strings(dups)
	for _, id := range dups {
		problems = append(problems, fmt.Sprintf("duplicate action %q", id))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid action table: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Actions lists registered ids in registration order
func (r *Registry) Actions() []string {
	out := make([]string, len(r.routes))
	for i, rt := range r.routes {
		out[i] = rt.action
	}
	return out
}

// Lookup resolves an action to its handler, the registered id it matched
// and the argument of a prefix action
func (r *Registry) Lookup(action string) (h Handler, id, arg string, ok bool) {
	if h, ok := r.exact[action]; ok {
		return h, action, "", true
	}
	name, arg, found := strings.Cut(action, ":")
	if !found {
		return nil, "", "", false
	}
	if h, ok = r.prefix[name]; !ok {
		return nil, "", "", false
	}
	return h, name + ":", arg, true
}

// Dispatch runs the handler for req.Action
func (r *Registry) Dispatch(ctx context.Context, s *session.Session, req Request) (*Reply, error) {
	h, _, arg, ok := r.Lookup(req.Action)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
	if arg != "" {
		req.Arg = arg
	}
	return h(ctx, s, req)
}
