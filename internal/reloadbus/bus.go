// Package reloadbus keeps the permission caches of several service
// instances in step. After a local reload the bus publishes a notice on a
// Redis channel; every other instance subscribed to the channel reloads
// its own cache. Reloads triggered by a notice are not re-published, and
// an instance ignores its own notices.
package reloadbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/StricklySoft/stricklysoft-iam/pkg/clients/redis"
	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
	"github.com/StricklySoft/stricklysoft-iam/pkg/rbac"
)

// DefaultChannel is the Redis channel notices travel on.
const DefaultChannel = "iam:permission-cache:reload"

const (
	defaultPublishTimeout = 5 * time.Second
	peerSourcePrefix      = "peer:"
)

// Cache is the part of [rbac.PermissionCache] the bus drives.
type Cache interface {
	ReloadAll(ctx context.Context) error
	OnReload(fn func(rbac.ReloadEvent))
}

// Notice is the message published after a local reload.
type Notice struct {
	Instance   string `json:"instance"`
	Generation uint64 `json:"generation"`
}

// Bus is safe for concurrent use.
type Bus struct {
	client         *redis.Client
	cache          Cache
	channel        string
	instanceID     string
	publishTimeout time.Duration
	logger         *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a [Bus].
type Option func(*Bus)

// WithChannel overrides [DefaultChannel].
func WithChannel(channel string) Option {
	return func(b *Bus) {
		if channel != "" {
			b.channel = channel
		}
	}
}

// WithInstanceID overrides the random instance id.
func WithInstanceID(id string) Option {
	return func(b *Bus) {
		if id != "" {
			b.instanceID = id
		}
	}
}

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// New creates a bus and registers it as a reload listener on cache.
// Notices are published from then on; call [Bus.Start] to receive them.
func New(client *redis.Client, cache Cache, opts ...Option) *Bus {
	b := &Bus{
		client:         client,
		cache:          cache,
		channel:        DefaultChannel,
		instanceID:     uuid.NewString(),
		publishTimeout: defaultPublishTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	cache.OnReload(b.onReload)
	return b
}

// InstanceID identifies this instance in notices.
func (b *Bus) InstanceID() string { return b.instanceID }

// Channel returns the channel name.
func (b *Bus) Channel() string { return b.channel }

// Start subscribes to the channel and handles notices in the background
// until Stop. Starting a started bus is a conflict.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return sserr.Conflict("reloadbus: already started")
	}

	ps, err := b.client.Subscribe(ctx, b.channel)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.listen(runCtx, ps, b.done)

	b.logger.InfoContext(ctx, "reloadbus: listening",
		slog.String("channel", b.channel),
		slog.String("instance", b.instanceID))
	return nil
}

// Stop ends the subscription and waits for the listener to exit or ctx
// to end. Stopping a bus that is not started is a no-op.
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return sserr.Wrap(ctx.Err(), sserr.CodeTimeout, "reloadbus: stop timed out")
	}
}

func (b *Bus) listen(ctx context.Context, ps *goredis.PubSub, done chan struct{}) {
	defer close(done)
	defer func() { _ = ps.Close() }()

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handle(ctx, msg.Payload)
		}
	}
}

func (b *Bus) handle(ctx context.Context, payload string) {
	var n Notice
	if err := json.Unmarshal([]byte(payload), &n); err != nil || n.Instance == "" {
		b.logger.WarnContext(ctx, "reloadbus: ignoring malformed notice", slog.String("payload", payload))
		return
	}
	if n.Instance == b.instanceID {
		return
	}
	b.logger.InfoContext(ctx, "reloadbus: peer reloaded, reloading permission cache",
		slog.String("peer", n.Instance),
		slog.Uint64("peer_generation", n.Generation))
	// The cache logs a failed reload and keeps its snapshot.
	_ = b.cache.ReloadAll(rbac.WithReloadSource(ctx, peerSourcePrefix+n.Instance))
}

// onReload publishes a notice for reloads that did not come from a peer.
func (b *Bus) onReload(ev rbac.ReloadEvent) {
	if strings.HasPrefix(ev.Source, peerSourcePrefix) {
		return
	}
	payload, err := json.Marshal(Notice{Instance: b.instanceID, Generation: ev.Generation})
	if err != nil {
		b.logger.Error("reloadbus: encode notice failed", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.publishTimeout)
	defer cancel()
	receivers, err := b.client.Publish(ctx, b.channel, payload)
	if err != nil {
		b.logger.WarnContext(ctx, "reloadbus: publish failed, peers keep their caches until their next reload",
			slog.String("error", err.Error()))
		return
	}
	b.logger.DebugContext(ctx, "reloadbus: notice published",
		slog.Uint64("generation", ev.Generation),
		slog.Int64("receivers", receivers))
}
