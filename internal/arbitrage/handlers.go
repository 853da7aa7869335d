package arbitrage

type subscription[F any] struct {
	id int
	fn F
}

// handlerList is an ordered list of callbacks with removal by token.
type handlerList[F any] struct {
	nextID int
	subs   []subscription[F]
}

func (l *handlerList[F]) add(fn F) (remove func()) {
	l.nextID++
	id := l.nextID
	l.subs = append(l.subs, subscription[F]{id: id, fn: fn})
	return func() {
		for i, s := range l.subs {
			if s.id == id {
				l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
				return
			}
		}
	}
}

// snapshot returns the callbacks in registration order. Callers iterate the copy, so a
// callback may unregister itself.
func (l *handlerList[F]) snapshot() []F {
	out := make([]F, len(l.subs))
	for i, s := range l.subs {
		out[i] = s.fn
	}
	return out
}
