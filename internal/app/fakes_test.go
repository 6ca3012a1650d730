package app

import (
	"context"
	"sync"

	"github.com/dkeye/Dialtone/internal/core"
	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/dkeye/Dialtone/internal/protocol"
	"github.com/stretchr/testify/mock"
)

type fakeConn struct {
	id      core.ConnID
	mu      sync.Mutex
	frames  []core.Frame
	closed  bool
	sendErr error
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: core.ConnID(id)} }

func (c *fakeConn) ID() core.ConnID { return c.id }

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) messages() []*protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*protocol.Message, 0, len(c.frames))
	for _, f := range c.frames {
		m, err := protocol.Decode(f)
		if err != nil {
			panic(err)
		}
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) kinds() []protocol.Kind {
	var out []protocol.Kind
	for _, m := range c.messages() {
		out = append(out, m.Type)
	}
	return out
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, target domain.UserID, s core.Summary) error {
	args := m.Called(ctx, target, s)
	return args.Error(0)
}

type memStore struct {
	mu   sync.Mutex
	data map[domain.UserID]domain.Presence
}

func newMemStore() *memStore { return &memStore{data: map[domain.UserID]domain.Presence{}} }

func (s *memStore) SetOnline(_ context.Context, user domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[user] = domain.Presence{UserID: user, Online: true}
	return nil
}

func (s *memStore) SetOffline(_ context.Context, p domain.Presence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[p.UserID] = p
	return nil
}

func (s *memStore) Get(_ context.Context, user domain.UserID) (domain.Presence, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data[user]
	return p, ok, nil
}
