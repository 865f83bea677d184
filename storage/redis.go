package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/songzhibin97/clinic-intake/types"
)

const (
	defaultPrefix     = "clinic:"
	appointmentPrefix = "appointment:"
	orderKey          = "appointments"
	slotPrefix        = "slots:"

	releaseRetries = 3
)

// RedisStorage is a Redis-backed implementation of the Storage interface.
//
// Layout under Prefix:
//
//	appointment:<id>       JSON appointment
//	appointments           sorted set of ids scored by first save
//	slots:<pid>:<date>     hash of time label -> holding appointment id
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// RedisOptions extends redis.Options with additional configuration.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
	DialTimeout  time.Duration
	// Prefix namespaces every key; defaults to "clinic:".
	Prefix string
}

// NewRedisStorage creates a new RedisStorage instance with configurable options.
func NewRedisStorage(opts RedisOptions) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
		DialTimeout:  opts.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisStorage{client: client, prefix: prefix}, nil
}

func (s *RedisStorage) appointmentKey(id string) string {
	return s.prefix + appointmentPrefix + id
}

func (s *RedisStorage) slotKey(practitionerID, date string) string {
	return s.prefix + slotPrefix + practitionerID + ":" + date
}

// getFromRedis retrieves and unmarshals a value from Redis.
func getFromRedis[T any](ctx context.Context, client *redis.Client, key string, errNotFound error) (T, error) {
	return withContext(ctx, func() (T, error) {
		var zero T
		data, err := client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("%w: key=%s", errNotFound, key)
		} else if err != nil {
			return zero, fmt.Errorf("failed to get %s from Redis: %w", key, err)
		}

		var result T
		if err := json.Unmarshal(data, &result); err != nil {
			return zero, fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
		return result, nil
	})
}

// SaveAppointment writes the appointment and registers its id in the order set.
func (s *RedisStorage) SaveAppointment(ctx context.Context, appt types.Appointment) error {
	return withContextError(ctx, func() error {
		data, err := json.Marshal(appt)
		if err != nil {
			return fmt.Errorf("failed to marshal appointment %s: %w", appt.ID, err)
		}
		pipe := s.client.TxPipeline()
		pipe.Set(ctx, s.appointmentKey(appt.ID), data, 0)
		pipe.ZAddNX(ctx, s.prefix+orderKey, &redis.Z{
			Score:  float64(time.Now().UnixNano()),
			Member: appt.ID,
		})
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to save appointment %s: %w", appt.ID, err)
		}
		return nil
	})
}

// GetAppointment retrieves an appointment from Redis.
func (s *RedisStorage) GetAppointment(ctx context.Context, id string) (types.Appointment, error) {
	return getFromRedis[types.Appointment](ctx, s.client, s.appointmentKey(id), ErrAppointmentNotFound)
}

// ListAppointments returns appointments in the order they were first saved.
func (s *RedisStorage) ListAppointments(ctx context.Context) ([]types.Appointment, error) {
	return withContext(ctx, func() ([]types.Appointment, error) {
		ids, err := s.client.ZRange(ctx, s.prefix+orderKey, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read appointment order: %w", err)
		}
		if len(ids) == 0 {
			return []types.Appointment{}, nil
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = s.appointmentKey(id)
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load appointments: %w", err)
		}

		out := make([]types.Appointment, 0, len(values))
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue // id listed but payload gone
			}
			var appt types.Appointment
			if err := json.Unmarshal([]byte(raw), &appt); err != nil {
				return nil, fmt.Errorf("failed to unmarshal %s: %w", keys[i], err)
			}
			out = append(out, appt)
		}
		return out, nil
	})
}

// ClaimSlot sets the slot's hash field only if it is free, so concurrent
// bookers across processes cannot both win.
func (s *RedisStorage) ClaimSlot(ctx context.Context, slot types.Slot, apptID string) error {
	return withContextError(ctx, func() error {
		key := s.slotKey(slot.PractitionerID, slot.Date)
		ok, err := s.client.HSetNX(ctx, key, slot.Time, apptID).Result()
		if err != nil {
			return fmt.Errorf("failed to claim slot %s %s: %w", key, slot.Time, err)
		}
		if ok {
			return nil
		}
		holder, err := s.client.HGet(ctx, key, slot.Time).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to read slot %s %s: %w", key, slot.Time, err)
		}
		if holder == apptID {
			return nil
		}
		return fmt.Errorf("%w: %s %s %s held by %s", ErrSlotTaken, slot.PractitionerID, slot.Date, slot.Time, holder)
	})
}

// ReleaseSlot removes the claim if apptID still holds it. The compare and
// delete run under WATCH and are retried on contention.
func (s *RedisStorage) ReleaseSlot(ctx context.Context, slot types.Slot, apptID string) error {
	return withContextError(ctx, func() error {
		key := s.slotKey(slot.PractitionerID, slot.Date)
		release := func(tx *redis.Tx) error {
			holder, err := tx.HGet(ctx, key, slot.Time).Result()
			if errors.Is(err, redis.Nil) {
				return nil
			} else if err != nil {
				return err
			}
			if holder != apptID {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HDel(ctx, key, slot.Time)
				return nil
			})
			return err
		}

		var err error
		for i := 0; i < releaseRetries; i++ {
			err = s.client.Watch(ctx, release, key)
			if !errors.Is(err, redis.TxFailedErr) {
				break
			}
		}
		if err != nil {
			return fmt.Errorf("failed to release slot %s %s: %w", key, slot.Time, err)
		}
		return nil
	})
}

// TakenSlots lists the claimed time labels for practitionerID on date, sorted.
func (s *RedisStorage) TakenSlots(ctx context.Context, practitionerID, date string) ([]string, error) {
	return withContext(ctx, func() ([]string, error) {
		key := s.slotKey(practitionerID, date)
		taken, err := s.client.HKeys(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list slots %s: %w", key, err)
		}
		sort.Strings(taken)
		return taken, nil
	})
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
