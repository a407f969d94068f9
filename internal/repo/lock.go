package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TrimLockKey — ключ advisory lock'а для обрезки streams.
const TrimLockKey int64 = 424243

// AdvisoryLock — session-level pg_advisory_lock на выделенном соединении.
// Lock живёт, пока соединение не возвращено в пул.
type AdvisoryLock struct {
	conn *pgxpool.Conn
	key  int64
}

// TryAdvisoryLock пытается взять lock без ожидания.
// Возвращает (nil, nil), если lock держит другой процесс.
func TryAdvisoryLock(ctx context.Context, pool *pgxpool.Pool, key int64) (*AdvisoryLock, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire conn: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, "select pg_try_advisory_lock($1)", key).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("try advisory lock %d: %w", key, err)
	}
	if !ok {
		conn.Release()
		return nil, nil
	}
	return &AdvisoryLock{conn: conn, key: key}, nil
}

// Unlock снимает lock и возвращает соединение в пул.
func (l *AdvisoryLock) Unlock(ctx context.Context) error {
	defer l.conn.Release()
	if _, err := l.conn.Exec(ctx, "select pg_advisory_unlock($1)", l.key); err != nil {
		return fmt.Errorf("advisory unlock %d: %w", l.key, err)
	}
	return nil
}
