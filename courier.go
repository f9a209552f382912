package courier

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/courier/crypto"
	"github.com/opd-ai/courier/directory"
	"github.com/opd-ai/courier/events"
	"github.com/opd-ai/courier/receiver"
	"github.com/opd-ai/courier/session"
	"github.com/opd-ai/courier/storage"
	"github.com/opd-ai/courier/task"
)

// Options contains configuration for creating a Courier instance.
type Options struct {
	// DataDir is where durable state lives: message store, task archive,
	// session state and nonce counters. Required.
	DataDir string

	// SecretKey restores a caller-managed identity; the caller must
	// supply the same key on every run. Zero means load the identity
	// persisted under DataDir, generating one on first use.
	SecretKey [32]byte

	// Connection is the caller's server connection used for all
	// transmission. Required.
	Connection task.Connection

	// Directory resolves identities, membership and conversation flags.
	// Nil means an empty in-memory directory.
	Directory directory.Directory

	// RetryPolicy controls attempt counts and backoff timing. Zero fields
	// fall back to defaults.
	RetryPolicy task.RetryPolicy
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	return &Options{}
}

// Courier owns the assembled send pipeline. Create one with New, run it
// with Start, release it with Stop.
type Courier struct {
	keyPair  *crypto.KeyPair
	nonces   *crypto.NonceFactory
	sessions *session.Store
	messages *storage.SQLiteStore
	archiver *task.SQLiteArchiver
	dir      directory.Directory
	bus      *events.Bus
	manager  *task.Manager

	mu      sync.Mutex
	running bool
}

// New builds a Courier from options, constructing the subsystems in
// dependency order. Nothing is dispatched until Start is called.
func New(options *Options) (*Courier, error) {
	if options == nil {
		options = NewOptions()
	}
	if options.DataDir == "" {
		return nil, errors.New("options.DataDir is required")
	}
	if options.Connection == nil {
		return nil, errors.New("options.Connection is required")
	}

	keyPair, err := loadKeyPair(options)
	if err != nil {
		return nil, err
	}

	nonces, err := crypto.NewNonceFactory(options.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create nonce factory: %w", err)
	}

	sessions, err := session.NewStore(keyPair, nonces, options.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	messages, err := storage.NewSQLiteStore(options.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open message store: %w", err)
	}

	archiver, err := task.NewSQLiteArchiver(options.DataDir)
	if err != nil {
		messages.Close()
		return nil, fmt.Errorf("failed to open task archive: %w", err)
	}

	dir := options.Directory
	if dir == nil {
		dir = directory.NewMemoryDirectory()
	}

	bus := events.NewBus()

	executor := &task.Executor{
		Sessions:  sessions,
		Messages:  messages,
		Directory: dir,
		Conn:      options.Connection,
		Bus:       bus,
	}
	manager := task.NewManager(executor, archiver, options.RetryPolicy)

	c := &Courier{
		keyPair:  keyPair,
		nonces:   nonces,
		sessions: sessions,
		messages: messages,
		archiver: archiver,
		dir:      dir,
		bus:      bus,
		manager:  manager,
	}

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"data_dir": options.DataDir,
	}).Info("Courier instance created")

	return c, nil
}

// identityFileName holds the device's private identity key under DataDir.
const identityFileName = "identity.key"

// loadKeyPair resolves the device identity: an explicit SecretKey wins,
// otherwise the key persisted under DataDir is loaded, generating and
// persisting a fresh one on first run. Session state is sealed under this
// key, so losing it would strand every established session.
func loadKeyPair(options *Options) (*crypto.KeyPair, error) {
	if options.SecretKey != ([32]byte{}) {
		keyPair, err := crypto.FromSecretKey(options.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("failed to restore key pair: %w", err)
		}
		return keyPair, nil
	}

	path := filepath.Join(options.DataDir, identityFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != 32 {
			return nil, fmt.Errorf("corrupt identity key file: got %d bytes, want 32", len(data))
		}
		var secretKey [32]byte
		copy(secretKey[:], data)
		crypto.ZeroBytes(data)
		keyPair, err := crypto.FromSecretKey(secretKey)
		if err != nil {
			return nil, fmt.Errorf("failed to restore persisted identity: %w", err)
		}
		return keyPair, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read identity key: %w", err)
	}

	keyPair, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, keyPair.Private[:], 0o600); err != nil {
		return nil, fmt.Errorf("failed to persist identity key: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("failed to persist identity key: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "loadKeyPair",
	}).Info("Generated and persisted new device identity")

	return keyPair, nil
}

// Start recovers archived tasks from the previous run and launches the
// dispatch worker.
func (c *Courier) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	if err := c.manager.Resume(); err != nil {
		return fmt.Errorf("failed to resume archived tasks: %w", err)
	}
	c.manager.Start()
	c.running = true

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"queued":   c.manager.QueueLen(),
	}).Info("Courier started")
	return nil
}

// Stop halts the dispatch worker and closes durable state. Queued tasks
// stay in the archive and are recovered on the next Start.
func (c *Courier) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false

	c.manager.Stop()
	if err := c.archiver.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Stop",
			"error":    err.Error(),
		}).Warn("Failed to close task archive")
	}
	if err := c.messages.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Stop",
			"error":    err.Error(),
		}).Warn("Failed to close message store")
	}

	logrus.WithFields(logrus.Fields{
		"function": "Stop",
	}).Info("Courier stopped")
}

// PublicKey returns the local identity's public key.
func (c *Courier) PublicKey() [32]byte {
	return c.keyPair.Public
}

// Bus exposes the event bus for state-change subscriptions.
func (c *Courier) Bus() *events.Bus {
	return c.bus
}

// Directory exposes the identity directory this instance was built with.
func (c *Courier) Directory() directory.Directory {
	return c.dir
}

// Messages exposes the message store.
func (c *Courier) Messages() storage.Store {
	return c.messages
}

// Sessions exposes the forward-secrecy session store.
func (c *Courier) Sessions() *session.Store {
	return c.sessions
}

// CancelTask requests cancellation of a queued or running task by id.
func (c *Courier) CancelTask(taskID string) error {
	return c.manager.Cancel(taskID)
}

// QueueLen reports the number of tasks waiting to run.
func (c *Courier) QueueLen() int {
	return c.manager.QueueLen()
}

// ContactReceiver returns a receiver targeting a single contact.
func (c *Courier) ContactReceiver(identity string) *receiver.ContactReceiver {
	return receiver.NewContactReceiver(c.receiverDeps(), identity)
}

// GroupReceiver returns a receiver targeting a group conversation.
func (c *Courier) GroupReceiver(groupID string) *receiver.GroupReceiver {
	return receiver.NewGroupReceiver(c.receiverDeps(), groupID)
}

// DistributionListReceiver returns a receiver fanning out to a
// distribution list's members.
func (c *Courier) DistributionListReceiver(listID string) *receiver.DistributionListReceiver {
	return receiver.NewDistributionListReceiver(c.receiverDeps(), listID)
}

func (c *Courier) receiverDeps() receiver.Deps {
	return receiver.Deps{
		Store:     c.messages,
		Directory: c.dir,
		Scheduler: c.manager,
		Bus:       c.bus,
	}
}
