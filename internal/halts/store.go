package halts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/aman-zulfiqar/krc20-swap/internal/constants"
	"github.com/redis/go-redis/v9"
)

var keyRe = regexp.MustCompile(`^[A-Za-z0-9]{1,32}(:[A-Za-z0-9]{1,32})?$`)

// Store keeps trading halts in Redis so every API replica sees the same set.
type Store struct {
	client redis.Cmdable
	now    func() time.Time
}

func NewStore(client redis.Cmdable) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	return &Store{client: client, now: time.Now}, nil
}

func ValidateKey(key string) error {
	if !keyRe.MatchString(key) {
		return ErrInvalidKey
	}
	return nil
}

// PairKey is the halt key covering both directions of from/to.
func PairKey(from, to string) string {
	return from + ":" + to
}

func (s *Store) Halt(ctx context.Context, key, reason string) (*Halt, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	h := &Halt{Key: key, Reason: reason, CreatedAt: s.now().UTC()}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("marshal halt: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, haltKey(key), b, 0)
	pipe.SAdd(ctx, constants.RedisKeyHaltIndex, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("set halt: %w", err)
	}
	return h, nil
}

func (s *Store) Get(ctx context.Context, key string) (*Halt, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	val, err := s.client.Get(ctx, haltKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get halt: %w", err)
	}

	var h Halt
	if err := json.Unmarshal([]byte(val), &h); err != nil {
		return nil, fmt.Errorf("unmarshal halt: %w", err)
	}
	return &h, nil
}

func (s *Store) List(ctx context.Context) ([]*Halt, error) {
	keys, err := s.client.SMembers(ctx, constants.RedisKeyHaltIndex).Result()
	if err != nil {
		return nil, fmt.Errorf("list halts index: %w", err)
	}

	redisKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		if ValidateKey(k) == nil {
			redisKeys = append(redisKeys, haltKey(k))
		}
	}
	return s.mget(ctx, redisKeys)
}

// Resume lifts a halt. Lifting a missing halt is not an error.
func (s *Store) Resume(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, haltKey(key))
	pipe.SRem(ctx, constants.RedisKeyHaltIndex, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	return nil
}

// Check returns the first halt covering an order from -> to, or nil.
func (s *Store) Check(ctx context.Context, from, to string) (*Halt, error) {
	candidates := []string{from, to, PairKey(from, to), PairKey(to, from)}

	redisKeys := make([]string, 0, len(candidates))
	for _, k := range candidates {
		if ValidateKey(k) == nil {
			redisKeys = append(redisKeys, haltKey(k))
		}
	}

	found, err := s.mget(ctx, redisKeys)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

func (s *Store) mget(ctx context.Context, redisKeys []string) ([]*Halt, error) {
	if len(redisKeys) == 0 {
		return []*Halt{}, nil
	}

	vals, err := s.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget halts: %w", err)
	}

	out := make([]*Halt, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var h Halt
		if err := json.Unmarshal([]byte(str), &h); err != nil {
			continue
		}
		out = append(out, &h)
	}
	return out, nil
}

func haltKey(key string) string {
	return constants.RedisKeyHaltPrefix + key
}
