package server

import (
	"slices"

	"mini-irc/message"
)

// Room is a named set of member connections, keyed by client name and kept
// in join order. Rooms are created lazily and never destroyed: an empty room
// stays listed.
//
// All methods run under the server mutex.
type Room struct {
	name    string
	members map[string]*ClientConn
	order   []string
}

func newRoom(name string) *Room {
	return &Room{
		name:    name,
		members: make(map[string]*ClientConn),
	}
}

// Name returns the room's unique name.
func (r *Room) Name() string { return r.name }

// join upserts a member: re-joining replaces the stored connection but keeps
// the member's position in the order.
func (r *Room) join(c *ClientConn) {
	if _, ok := r.members[c.name]; !ok {
		r.order = append(r.order, c.name)
	}
	r.members[c.name] = c
}

// leave removes a member if present.
func (r *Room) leave(name string) {
	if _, ok := r.members[name]; !ok {
		return
	}
	delete(r.members, name)
	if i := slices.Index(r.order, name); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
}

// Clients returns member names in join order.
func (r *Room) Clients() []string {
	return slices.Clone(r.order)
}

// broadcast fans body out to every member, the sender included. Membership is
// not pruned on disconnect, so a member's stream may already be gone; such
// writes fail and the stale member is removed here, without erroring the
// sender.
func (r *Room) broadcast(sender string, body []byte) {
	var stale []string
	for _, name := range r.order {
		m := r.members[name]
		if err := m.Send(message.Broadcast(r.name, sender, body)); err != nil {
			m.log.Debug().Err(err).Str("room", r.name).Str("member", name).
				Msg("pruning stale room member")
			stale = append(stale, name)
		}
	}
	for _, name := range stale {
		r.leave(name)
	}
}
