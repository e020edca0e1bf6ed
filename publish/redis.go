package publish

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Tutortoise/facial-attribute-service/models"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const DefaultKey = "facial-attributes:latest"

// Options configures both the client and the mirror. Key names the snapshot
// and the pub/sub channel; a zero TTL keeps the snapshot forever.
type Options struct {
	Address  string
	Password string
	DB       int
	Key      string
	TTL      time.Duration
}

// Connect opens a client and checks it with a ping.
func Connect(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Address, err)
	}
	return client, nil
}

// Snapshot is the mirrored form of an overlay. Render counters are left out
// so that the mirror only changes with the classification itself.
type Snapshot struct {
	Version     uint64            `json:"version"`
	Active      bool              `json:"active"`
	Attributes  models.Attributes `json:"attributes"`
	FrameWidth  int               `json:"frame_width"`
	FrameHeight int               `json:"frame_height"`
	PublishedAt time.Time         `json:"published_at"`
}

// Redis mirrors the latest classification into a key with a TTL and
// publishes it on a channel of the same name. Consume only hands the
// overlay to Run, which does the network work.
type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	log    logrus.FieldLogger

	pending atomic.Pointer[models.Overlay]
	notify  chan struct{}

	last      *Snapshot
	published atomic.Uint64
	failures  atomic.Uint64
}

func NewRedis(client *redis.Client, opts Options, logger logrus.FieldLogger) *Redis {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	return &Redis{
		client: client,
		key:    opts.Key,
		ttl:    opts.TTL,
		log:    logger.WithField("component", "redis"),
		notify: make(chan struct{}, 1),
	}
}

func (r *Redis) Consume(_ context.Context, overlay models.Overlay) error {
	r.pending.Store(&overlay)
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

func (r *Redis) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.notify:
			if err := r.Flush(ctx); err != nil {
				r.failures.Add(1)
				r.log.WithError(err).Warn("failed to mirror attributes")
			}
		}
	}
}

// Flush writes the pending overlay if its classification changed since the
// last successful write.
func (r *Redis) Flush(ctx context.Context) error {
	overlay := r.pending.Swap(nil)
	if overlay == nil {
		return nil
	}
	if r.last != nil && r.last.Version == overlay.Version && r.last.Active == overlay.Active {
		return nil
	}

	snapshot := &Snapshot{
		Version:     overlay.Version,
		Active:      overlay.Active,
		Attributes:  overlay.Attributes,
		FrameWidth:  overlay.FrameWidth,
		FrameHeight: overlay.FrameHeight,
		PublishedAt: time.Now(),
	}
	if snapshot.Attributes == nil {
		snapshot.Attributes = models.Attributes{}
	}

	data, err := jsoniter.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key, data, r.ttl)
		pipe.Publish(ctx, r.key, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", r.key, err)
	}

	r.last = snapshot
	r.published.Add(1)
	r.log.WithField("version", snapshot.Version).Debug("attributes mirrored")
	return nil
}

// Latest reads the mirrored snapshot back. It returns redis.Nil once the
// key has expired.
func (r *Redis) Latest(ctx context.Context) (*Snapshot, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		return nil, err
	}
	var snapshot Snapshot
	if err := jsoniter.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snapshot, nil
}

type Stats struct {
	Published uint64 `json:"published"`
	Failures  uint64 `json:"failures"`
}

func (r *Redis) Stats() Stats {
	return Stats{
		Published: r.published.Load(),
		Failures:  r.failures.Load(),
	}
}
