package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Deliver записывает ответ одной транзакцией MULTI/EXEC:
//
//  1. LPUSH res:{ref} <json>  + EXPIRE ttl  — для вызывающей стороны
//  2. XADD <response stream>               — audit-копия
//  3. HSET req:{ref}:h <type>:trace <json> — trace
//  4. XACK <request stream> <group> <id>   — если задан AckStream
//
// Либо выполняется всё, либо ничего.
func (s *Store) Deliver(ctx context.Context, d *domain.Delivery) error {
	res, err := json.Marshal(d.Result)
	if err != nil {
		return fmt.Errorf("marshal result %s: %w", d.Ref, err)
	}
	trace, err := json.Marshal(d.Trace)
	if err != nil {
		return fmt.Errorf("marshal trace %s: %w", d.Ref, err)
	}

	listKey := domain.ResponseListKey(d.Ref)

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, listKey, res)
		pipe.Expire(ctx, listKey, d.TTL)
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: d.ResponseStream,
			Values: map[string]any{
				domain.FieldRef:          d.Ref,
				domain.FieldType:         d.WorkerType,
				domain.FieldResponseXID:  d.MessageID.String(),
				domain.FieldResponseCode: strconv.Itoa(d.Result.Code),
				domain.FieldResponseRes:  string(res),
			},
		})
		pipe.HSet(ctx, domain.TraceKey(d.Ref), domain.TraceField(d.WorkerType), string(trace))
		if d.AckStream != "" {
			pipe.XAck(ctx, d.AckStream, d.AckGroup, d.MessageID.String())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deliver %s: %w", d.Ref, err)
	}
	return nil
}

// WaitResponse блокируется до timeout в ожидании ответа на ref (BRPOP res:{ref}).
// Это сторона вызывающего: каждый ответ забирается не больше одного раза.
func (s *Store) WaitResponse(ctx context.Context, ref string, timeout time.Duration) (*domain.Result, error) {
	vals, err := s.rdb.BRPop(ctx, timeout, domain.ResponseListKey(ref)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s after %s", ErrNoResponse, ref, timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("brpop %s: %w", ref, err)
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("%w: brpop returned %d values", ErrProtocol, len(vals))
	}

	var res domain.Result
	if err := json.Unmarshal([]byte(vals[1]), &res); err != nil {
		return nil, fmt.Errorf("unmarshal response %s: %w", ref, err)
	}
	return &res, nil
}

// Trace возвращает trace hash запроса: тип worker'а → trace.
func (s *Store) Trace(ctx context.Context, ref string) (map[string]domain.Trace, error) {
	fields, err := s.rdb.HGetAll(ctx, domain.TraceKey(ref)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", domain.TraceKey(ref), err)
	}

	out := make(map[string]domain.Trace, len(fields))
	for field, raw := range fields {
		var tr domain.Trace
		if err := json.Unmarshal([]byte(raw), &tr); err != nil {
			return nil, fmt.Errorf("unmarshal trace %s %s: %w", ref, field, err)
		}
		out[field] = tr
	}
	return out, nil
}
