package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/courier/crypto"
	"github.com/opd-ai/courier/directory"
	"github.com/opd-ai/courier/events"
	"github.com/opd-ai/courier/session"
	"github.com/opd-ai/courier/storage"
)

// mockConnection scripts per-identity failures and records every envelope
// that reached the wire.
type mockConnection struct {
	mu        sync.Mutex
	connected bool
	sent      []*Envelope
	failCount map[string]int
	failWith  error
	attempts  int
	hold      chan struct{}
}

func newMockConnection() *mockConnection {
	return &mockConnection{connected: true, failCount: make(map[string]int)}
}

// failTimes makes the next n sends to identity fail with err.
func (c *mockConnection) failTimes(identity string, n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failCount[identity] = n
	c.failWith = err
}

func (c *mockConnection) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = connected
}

// holdSends makes Send block until releaseSends or context cancellation.
func (c *mockConnection) holdSends() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hold = make(chan struct{})
}

func (c *mockConnection) releaseSends() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hold != nil {
		close(c.hold)
		c.hold = nil
	}
}

func (c *mockConnection) Send(ctx context.Context, env *Envelope) error {
	c.mu.Lock()
	c.attempts++
	hold := c.hold
	c.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failCount[env.To] > 0 {
		c.failCount[env.To]--
		return c.failWith
	}

	envCopy := *env
	c.sent = append(c.sent, &envCopy)
	return nil
}

// attemptCount returns the number of Send calls, including interrupted ones.
func (c *mockConnection) attemptCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *mockConnection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *mockConnection) WaitUntilConnected(ctx context.Context) error {
	for {
		if c.Connected() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// sentTo returns the envelopes delivered to one identity.
func (c *mockConnection) sentTo(identity string) []*Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Envelope
	for _, env := range c.sent {
		if env.To == identity {
			out = append(out, env)
		}
	}
	return out
}

func (c *mockConnection) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *mockConnection) sentOrder() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, env := range c.sent {
		out = append(out, string(env.APIID))
	}
	return out
}

// testEnv wires a complete dispatch stack over temp directories.
type testEnv struct {
	dir      string
	store    *storage.SQLiteStore
	dirsvc   *directory.MemoryDirectory
	sessions *session.Store
	conn     *mockConnection
	archiver *SQLiteArchiver
	bus      *events.Bus
	manager  *Manager
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     4,
		InitialInterval: 10 * time.Millisecond,
		Multiplier:      1.5,
		MaxInterval:     50 * time.Millisecond,
		AckTimeout:      500 * time.Millisecond,
		ConnectWait:     200 * time.Millisecond,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	keyPair, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	nonces, err := crypto.NewNonceFactory(dir)
	require.NoError(t, err)
	sessions, err := session.NewStore(keyPair, nonces, dir)
	require.NoError(t, err)

	store, err := storage.NewSQLiteStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	archiver, err := NewSQLiteArchiver(dir)
	require.NoError(t, err)
	t.Cleanup(func() { archiver.Close() })

	env := &testEnv{
		dir:      dir,
		store:    store,
		dirsvc:   directory.NewMemoryDirectory(),
		sessions: sessions,
		conn:     newMockConnection(),
		archiver: archiver,
		bus:      events.NewBus(),
	}
	env.manager = NewManager(&Executor{
		Sessions:  sessions,
		Messages:  store,
		Directory: env.dirsvc,
		Conn:      env.conn,
		Bus:       env.bus,
	}, archiver, fastPolicy())

	return env
}

// addContact registers a contact with a fresh key pair.
func (env *testEnv) addContact(t *testing.T, identity string) {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	env.dirsvc.AddContact(identity, kp.Public)
}
