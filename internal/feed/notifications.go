package feed

import "sort"

// Inbox holds the viewer's live notification list, newest first. The
// read flag is monotonic: once a notification is read locally, a stale
// unread echo from the wire cannot flip it back.
type Inbox struct {
	recipientID string
	items       map[string]*Notification
	order       []string
}

// NewInbox creates an empty inbox for the recipient.
func NewInbox(recipientID string) *Inbox {
	return &Inbox{
		recipientID: recipientID,
		items:       make(map[string]*Notification),
	}
}

// Apply upserts a notification from the wire. Notifications addressed to
// someone else are ignored.
func (in *Inbox) Apply(n *Notification) {
	if n.RecipientID != in.recipientID {
		return
	}
	if prev, ok := in.items[n.ID]; ok {
		read := prev.Read || n.Read
		cp := *n
		cp.Read = read
		in.items[n.ID] = &cp
		return
	}

	cp := *n
	in.items[n.ID] = &cp
	i := sort.Search(len(in.order), func(i int) bool {
		other := in.items[in.order[i]]
		if other.CreatedAt != n.CreatedAt {
			return other.CreatedAt < n.CreatedAt
		}
		return other.ID > n.ID
	})
	in.order = append(in.order, "")
	copy(in.order[i+1:], in.order[i:])
	in.order[i] = n.ID
}

// Remove drops a notification (backend-side deletion).
func (in *Inbox) Remove(id string) {
	if _, ok := in.items[id]; !ok {
		return
	}
	delete(in.items, id)
	for i, other := range in.order {
		if other == id {
			in.order = append(in.order[:i], in.order[i+1:]...)
			break
		}
	}
}

// MarkRead flips the read flag locally. Returns the notification for the
// durable update, or nil when unknown or already read.
func (in *Inbox) MarkRead(id string) *Notification {
	n, ok := in.items[id]
	if !ok || n.Read {
		return nil
	}
	n.Read = true
	cp := *n
	return &cp
}

// List returns the notifications newest first, as copies.
func (in *Inbox) List() []*Notification {
	out := make([]*Notification, 0, len(in.order))
	for _, id := range in.order {
		cp := *in.items[id]
		out = append(out, &cp)
	}
	return out
}

// Unread returns the number of unread notifications.
func (in *Inbox) Unread() int {
	n := 0
	for _, item := range in.items {
		if !item.Read {
			n++
		}
	}
	return n
}
