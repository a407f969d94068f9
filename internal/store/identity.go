package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Conveyor/internal/domain"
)

// LoadIdentity читает worker identity.
func (s *Store) LoadIdentity(ctx context.Context, key string) (*domain.WorkerIdentity, error) {
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, key)
	}
	return domain.IdentityFromHash(key, fields)
}

// IdentityFields возвращает identity hash целиком, включая pid и счётчики ошибок.
func (s *Store) IdentityFields(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, key)
	}
	return fields, nil
}

// RegisterIdentity пересоздаёт identity hash (операторская команда setup-worker).
// Предыдущее содержимое, включая pid, удаляется.
func (s *Store) RegisterIdentity(ctx context.Context, identity *domain.WorkerIdentity) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, identity.Key)
		pipe.HSet(ctx, identity.Key, identity.Hash())
		return nil
	})
	if err != nil {
		return fmt.Errorf("register %s: %w", identity.Key, err)
	}
	return nil
}

// Claim захватывает identity для token.
//
// Check-and-set под WATCH: если pid уже не пустой — ErrAlreadyClaimed,
// запись при этом не изменяется. Если между чтением и записью pid
// кто-то изменил — ErrClaimRace.
func (s *Store) Claim(ctx context.Context, key, token string) error {
	if token == "" {
		return fmt.Errorf("claim %s: empty token", key)
	}

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("%w: %s", ErrIdentityNotFound, key)
		}

		lease, err := readLease(ctx, tx, key)
		if err != nil {
			return err
		}
		if lease.Claimed() {
			return fmt.Errorf("%w: %s is %s", ErrAlreadyClaimed, key, lease)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, domain.FieldPID, token)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: %s", ErrClaimRace, key)
	}
	if err != nil {
		return fmt.Errorf("claim %s: %w", key, err)
	}
	return nil
}

// VerifyOwner проверяет, что identity всё ещё принадлежит token.
func (s *Store) VerifyOwner(ctx context.Context, key, token string) error {
	lease, err := readLease(ctx, s.rdb, key)
	if err != nil {
		return fmt.Errorf("verify owner %s: %w", key, err)
	}
	if !lease.OwnedBy(token) {
		return fmt.Errorf("%w: %s is %s", ErrOwnershipRevoked, key, lease)
	}
	return nil
}

// Release освобождает identity, если она всё ещё принадлежит token.
// Если владелец сменился — ничего не делает.
func (s *Store) Release(ctx context.Context, key, token string) error {
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		lease, err := readLease(ctx, tx, key)
		if err != nil {
			return err
		}
		if !lease.OwnedBy(token) {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, key, domain.FieldPID)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// ForceRelease удаляет pid независимо от владельца.
// Работающий worker заметит это на следующей итерации и завершится.
func (s *Store) ForceRelease(ctx context.Context, key string) (domain.Lease, error) {
	var get *redis.StringCmd

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.HGet(ctx, key, domain.FieldPID)
		pipe.HDel(ctx, key, domain.FieldPID)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.Unclaimed, fmt.Errorf("force release %s: %w", key, err)
	}
	// результат HGET доступен только после EXEC
	return domain.LeaseFromPID(get.Val()), nil
}

// IncrementCounter увеличивает счётчик в identity hash (err:ref, err:type).
func (s *Store) IncrementCounter(ctx context.Context, key, field string) (int64, error) {
	n, err := s.rdb.HIncrBy(ctx, key, field, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("hincrby %s %s: %w", key, field, err)
	}
	return n, nil
}

func readLease(ctx context.Context, c redis.Cmdable, key string) (domain.Lease, error) {
	pid, err := c.HGet(ctx, key, domain.FieldPID).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Unclaimed, nil
	}
	if err != nil {
		return domain.Unclaimed, err
	}
	return domain.LeaseFromPID(pid), nil
}
