// internal/store/redis.go

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"

	"github.com/petervdpas/tuneroom/internal/room"
)

var errVersionMoved = errors.New("version moved")

// RedisStore keeps one JSON document per room and broadcasts commits on a
// per-room pub/sub channel, so subscribers on every node see every commit.
type RedisStore struct {
	*core

	client    *redis.Client
	keyPrefix string
	pubsub    *redis.PubSub
	done      chan struct{}
}

// NewRedisStore wraps client. Commits made by other nodes sharing the same
// keyPrefix reach local subscribers through pub/sub.
func NewRedisStore(ctx context.Context, client *redis.Client, keyPrefix string, opts Options) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis: nil client")
	}
	if keyPrefix == "" {
		keyPrefix = "tuneroom:"
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	r := &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		done:      make(chan struct{}),
	}
	r.core = newCore(r, opts)

	r.pubsub = client.PSubscribe(ctx, r.channelPattern())
	if _, err := r.pubsub.Receive(ctx); err != nil {
		r.pubsub.Close()
		return nil, fmt.Errorf("redis: psubscribe: %w", err)
	}
	go r.forward()
	return r, nil
}

// --- key helpers ---

func (r *RedisStore) roomKey(roomID string) string {
	return fmt.Sprintf("%sroom:%s:state", r.keyPrefix, roomID)
}

func (r *RedisStore) indexKey() string {
	return r.keyPrefix + "rooms"
}

func (r *RedisStore) roomChannel(roomID string) string {
	return fmt.Sprintf("%sroom:%s:events", r.keyPrefix, roomID)
}

func (r *RedisStore) channelPattern() string {
	return r.keyPrefix + "room:*:events"
}

// tombstone is published when a room is deleted. Version 0 never names a
// committed document.
func tombstone(roomID string) []byte {
	b, _ := json.Marshal(room.State{RoomID: roomID})
	return b
}

// forward feeds remote commits into the local fan-out. A tombstone resets
// the room's subscribers so a recreated room is delivered from version 1.
func (r *RedisStore) forward() {
	defer close(r.done)
	for msg := range r.pubsub.Channel() {
		var st room.State
		if err := json.Unmarshal([]byte(msg.Payload), &st); err != nil {
			r.log.WithError(err).WithField("channel", msg.Channel).Warn("redis: bad commit payload")
			continue
		}
		if st.Version == 0 {
			r.fan.reset(st.RoomID)
			continue
		}
		r.fan.publish(st)
	}
}

func (r *RedisStore) load(ctx context.Context, roomID string) (room.State, bool, error) {
	raw, err := r.client.Get(ctx, r.roomKey(roomID)).Result()
	if errors.Is(err, redis.Nil) {
		return room.State{}, false, nil
	}
	if err != nil {
		return room.State{}, false, fmt.Errorf("redis: get %s: %w", roomID, err)
	}
	var st room.State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return room.State{}, false, fmt.Errorf("redis: decode %s: %w", roomID, err)
	}
	return st, true, nil
}

func (r *RedisStore) cas(ctx context.Context, prev uint64, next room.State) (bool, error) {
	b, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("redis: encode %s: %w", next.RoomID, err)
	}
	key := r.roomKey(next.RoomID)

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		var cur uint64
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var st room.State
			if err := json.Unmarshal([]byte(raw), &st); err != nil {
				return err
			}
			cur = st.Version
		}
		if cur != prev {
			return errVersionMoved
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, b, 0)
			p.SAdd(ctx, r.indexKey(), next.RoomID)
			p.Publish(ctx, r.roomChannel(next.RoomID), b)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, errVersionMoved):
		return false, nil
	default:
		return false, fmt.Errorf("redis: commit %s: %w", next.RoomID, err)
	}
}

func (r *RedisStore) Delete(ctx context.Context, roomID string) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		r.queueDelete(ctx, p, roomID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: delete %s: %w", roomID, err)
	}
	r.fan.reset(roomID)
	return nil
}

func (r *RedisStore) DeleteIf(ctx context.Context, roomID string, version uint64) (bool, error) {
	key := r.roomKey(roomID)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return errVersionMoved
		}
		if err != nil {
			return err
		}
		var st room.State
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return err
		}
		if st.Version != version {
			return errVersionMoved
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			r.queueDelete(ctx, p, roomID)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		r.fan.reset(roomID)
		return true, nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, errVersionMoved):
		return false, nil
	default:
		return false, fmt.Errorf("redis: delete %s: %w", roomID, err)
	}
}

func (r *RedisStore) queueDelete(ctx context.Context, p redis.Pipeliner, roomID string) {
	p.Del(ctx, r.roomKey(roomID))
	p.SRem(ctx, r.indexKey(), roomID)
	p.Publish(ctx, r.roomChannel(roomID), tombstone(roomID))
}

func (r *RedisStore) Rooms(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list rooms: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close stops the pub/sub forwarder. The client belongs to the caller.
func (r *RedisStore) Close() error {
	err := r.pubsub.Close()
	<-r.done
	return err
}
