package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Entry — запись stream'а с полями в виде строк.
type Entry struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// GroupInfo — состояние consumer group (XINFO GROUPS).
type GroupInfo struct {
	Name            string `json:"name"`
	Consumers       int64  `json:"consumers"`
	Pending         int64  `json:"pending"`
	LastDeliveredID string `json:"last_delivered_id"`
	EntriesRead     int64  `json:"entries_read"`
	Lag             int64  `json:"lag"`
}

// PendingInfo — сводка по неподтверждённым сообщениям группы (XPENDING).
type PendingInfo struct {
	Count     int64            `json:"count"`
	Lower     string           `json:"lower,omitempty"`
	Higher    string           `json:"higher,omitempty"`
	Consumers map[string]int64 `json:"consumers,omitempty"`
}

// CreateGroup создаёт consumer group с начала stream'а (XGROUP CREATE ... 0 MKSTREAM).
// Если stream отсутствует — он создаётся пустым.
// Повторный вызов возвращает ErrGroupExists.
func (s *Store) CreateGroup(ctx context.Context, stream, group string) error {
	err := s.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil {
		if strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("%w: %s %s", ErrGroupExists, stream, group)
		}
		return fmt.Errorf("xgroup create %s %s: %w", stream, group, err)
	}
	return nil
}

// DequeueOne ждёт до block новое сообщение для consumer внутри group.
//
// По таймауту возвращает (nil, nil). Больше одного сообщения в ответе — ErrProtocol.
// noAck=true читает с NOACK: сообщение не попадает в pending entries list.
func (s *Store) DequeueOne(ctx context.Context, stream, group, consumer string, block time.Duration, noAck bool) (*domain.Message, error) {
	streams, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    1,
		Block:    block,
		NoAck:    noAck,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s %s %s: %w", stream, group, consumer, err)
	}

	raw, err := singleMessage(streams)
	if raw == nil || err != nil {
		return nil, err
	}

	id, err := domain.ParseStreamID(raw.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return domain.MessageFromFields(id, stringValues(raw.Values)), nil
}

// ReadGroup читает до count новых записей для consumer внутри group.
// По таймауту возвращает пустой срез.
func (s *Store) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	streams, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s %s %s: %w", stream, group, consumer, err)
	}

	var entries []Entry
	for _, st := range streams {
		entries = append(entries, toEntries(st.Messages)...)
	}
	return entries, nil
}

// ReadPending возвращает до count записей, уже выданных consumer'у,
// но не подтверждённых (XREADGROUP ... 0). Не блокируется.
func (s *Store) ReadPending(ctx context.Context, stream, group, consumer string, count int64) ([]Entry, error) {
	streams, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, "0"},
		Count:    count,
		Block:    -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s %s %s 0: %w", stream, group, consumer, err)
	}

	var entries []Entry
	for _, st := range streams {
		entries = append(entries, toEntries(st.Messages)...)
	}
	return entries, nil
}

// Ack подтверждает обработку записей.
func (s *Store) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.rdb.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("xack %s %s: %w", stream, group, err)
	}
	return nil
}

// Append добавляет запись в stream и возвращает её id.
func (s *Store) Append(ctx context.Context, stream string, fields map[string]any) (string, error) {
	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: fields,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// Range возвращает первые count записей stream'а.
func (s *Store) Range(ctx context.Context, stream string, count int64) ([]Entry, error) {
	msgs, err := s.rdb.XRangeN(ctx, stream, "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", stream, err)
	}
	return toEntries(msgs), nil
}

// Trim обрезает stream до maxLen последних записей. Возвращает число удалённых.
func (s *Store) Trim(ctx context.Context, stream string, maxLen int64) (int64, error) {
	n, err := s.rdb.XTrimMaxLen(ctx, stream, maxLen).Result()
	if err != nil {
		return 0, fmt.Errorf("xtrim %s: %w", stream, err)
	}
	return n, nil
}

// TrimArchived обрезает stream до maxLen последних записей, не удаляя записи,
// которые group ещё не прочитала или не подтвердила. Граница — самая старая
// pending запись группы, а при пустом pending — последняя выданная ей запись.
// Отсутствующая group — ErrGroupNotFound, stream не трогается.
func (s *Store) TrimArchived(ctx context.Context, stream, group string, maxLen int64) (int64, error) {
	floor, err := s.groupFloor(ctx, stream, group)
	if err != nil {
		return 0, err
	}
	if floor == (domain.StreamID{}) {
		return 0, nil
	}

	newest, err := s.rdb.XRevRangeN(ctx, stream, "+", "-", maxLen).Result()
	if err != nil {
		return 0, fmt.Errorf("xrevrange %s: %w", stream, err)
	}
	if int64(len(newest)) < maxLen {
		return 0, nil
	}
	keepFrom, err := domain.ParseStreamID(newest[len(newest)-1].ID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	minID := floor
	if keepFrom.Less(floor) {
		minID = keepFrom
	}

	n, err := s.rdb.XTrimMinID(ctx, stream, minID.String()).Result()
	if err != nil {
		return 0, fmt.Errorf("xtrim %s minid %s: %w", stream, minID, err)
	}
	return n, nil
}

// groupFloor возвращает id, раньше которого все записи group уже подтверждены.
func (s *Store) groupFloor(ctx context.Context, stream, group string) (domain.StreamID, error) {
	groups, err := s.Groups(ctx, stream)
	if err != nil {
		return domain.StreamID{}, err
	}

	for _, g := range groups {
		if g.Name != group {
			continue
		}
		last := g.LastDeliveredID
		if g.Pending > 0 {
			p, err := s.Pending(ctx, stream, group)
			if err != nil {
				return domain.StreamID{}, err
			}
			last = p.Lower
		}
		id, err := domain.ParseStreamID(last)
		if err != nil {
			return domain.StreamID{}, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		return id, nil
	}
	return domain.StreamID{}, fmt.Errorf("%w: %s %s", ErrGroupNotFound, stream, group)
}

// DeleteStream удаляет stream вместе с его группами.
func (s *Store) DeleteStream(ctx context.Context, stream string) error {
	if err := s.rdb.Del(ctx, stream).Err(); err != nil {
		return fmt.Errorf("del %s: %w", stream, err)
	}
	return nil
}

// Groups возвращает consumer group'ы stream'а.
func (s *Store) Groups(ctx context.Context, stream string) ([]GroupInfo, error) {
	groups, err := s.rdb.XInfoGroups(ctx, stream).Result()
	if err != nil {
		if strings.Contains(err.Error(), "no such key") {
			return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, stream)
		}
		return nil, fmt.Errorf("xinfo groups %s: %w", stream, err)
	}

	out := make([]GroupInfo, len(groups))
	for i, g := range groups {
		out[i] = GroupInfo{
			Name:            g.Name,
			Consumers:       g.Consumers,
			Pending:         g.Pending,
			LastDeliveredID: g.LastDeliveredID,
			EntriesRead:     g.EntriesRead,
			Lag:             g.Lag,
		}
	}
	return out, nil
}

// Pending возвращает сводку по неподтверждённым записям group.
func (s *Store) Pending(ctx context.Context, stream, group string) (*PendingInfo, error) {
	p, err := s.rdb.XPending(ctx, stream, group).Result()
	if err != nil {
		return nil, fmt.Errorf("xpending %s %s: %w", stream, group, err)
	}
	return &PendingInfo{
		Count:     p.Count,
		Lower:     p.Lower,
		Higher:    p.Higher,
		Consumers: p.Consumers,
	}, nil
}

func toEntries(msgs []redis.XMessage) []Entry {
	entries := make([]Entry, len(msgs))
	for i, m := range msgs {
		entries[i] = Entry{ID: m.ID, Fields: stringValues(m.Values)}
	}
	return entries
}

func stringValues(values map[string]any) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// singleMessage проверяет ответ XREADGROUP COUNT 1: ни одного сообщения — (nil, nil),
// больше одного — ErrProtocol.
func singleMessage(streams []redis.XStream) (*redis.XMessage, error) {
	switch n := countMessages(streams); n {
	case 0:
		return nil, nil
	case 1:
		for i := range streams {
			if len(streams[i].Messages) == 1 {
				return &streams[i].Messages[0], nil
			}
		}
	default:
		return nil, fmt.Errorf("%w: expecting 1 message, got %d", ErrProtocol, n)
	}
	return nil, nil
}

func countMessages(streams []redis.XStream) int {
	n := 0
	for _, st := range streams {
		n += len(st.Messages)
	}
	return n
}
