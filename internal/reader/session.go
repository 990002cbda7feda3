package reader

import (
	"context"
	"sync"

	"github.com/ssh-vom/boox-reader/internal/providers/manga"
)

// Session runs a Controller on its own owner goroutine. Every method is safe
// to call from any goroutine and returns without waiting for the work.
type Session struct {
	box        *mailbox
	controller *Controller
	updates    chan View
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	closeOnce  sync.Once
}

func NewSession(options Options) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	session := &Session{
		box:     newMailbox(),
		updates: make(chan View, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	session.controller = newController(ctx, session.box, options, session.publish)
	return session
}

// Run applies queued work until ctx is cancelled or Close is called. It must
// be called exactly once.
func (session *Session) Run(ctx context.Context) error {
	defer func() {
		session.controller.Close()
		session.cancel()
		session.box.close()
	}()

	for {
		session.box.drain()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-session.done:
			return nil
		case <-session.box.ready():
		}
	}
}

// Updates delivers the latest View. Intermediate views are dropped when the
// receiver falls behind.
func (session *Session) Updates() <-chan View {
	return session.updates
}

// publish only runs on the owner goroutine, so the send below never blocks.
func (session *Session) publish(view View) {
	select {
	case <-session.updates:
	default:
	}
	session.updates <- view
}

func (session *Session) Open(chapter manga.Chapter, edge Edge) {
	session.box.post(func() { session.controller.Open(chapter, edge) })
}

func (session *Session) Visible(id string) {
	session.box.post(func() { session.controller.Visible(id) })
}

// Retry re-fetches failed pages of the current chapter starting at the page
// item pageID.
func (session *Session) Retry(pageID string) {
	session.box.post(func() { session.controller.ReloadFrom(pageID) })
}

func (session *Session) LoadRemaining() {
	session.box.post(func() { session.controller.LoadRemaining() })
}

func (session *Session) Close() {
	session.closeOnce.Do(func() {
		session.cancel()
		close(session.done)
	})
}
