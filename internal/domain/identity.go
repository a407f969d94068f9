package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Поля hash'а worker identity.
const (
	FieldWorkerURL      = "workerUrl"
	FieldWorkerVersion  = "workerVersion"
	FieldRequestStream  = "requestStream"
	FieldResponseStream = "responseStream"
	FieldConsumerID     = "consumerId"
	FieldRequestLimit   = "requestLimit"
	FieldEncryptedIV    = "encryptedIv"
	FieldEncryptedAlg   = "encryptedAlg"
	FieldEncryptedJSON  = "encryptedJson"
	FieldPID            = "pid"
)

// Счётчики ошибок, которые worker ведёт прямо в своём identity hash.
const (
	CounterMissingRef   = "err:ref"
	CounterTypeMismatch = "err:type"
	CounterWorkerURL    = "err:workerUrl"
)

// ErrInvalidIdentityKey — ключ не соответствует формату {workerClass}:{consumerId}:h.
var ErrInvalidIdentityKey = errors.New("invalid worker identity key")

// WorkerIdentity — запись, идентифицирующая один экземпляр worker'а.
//
// Создаётся оператором (conveyor-cli setup-worker) до старта worker'а.
// Worker читает её один раз при старте, затем захватывает через поле pid.
type WorkerIdentity struct {
	// Key — ключ hash'а в Redis: {workerClass}:{consumerId}:h.
	Key string `json:"key"`

	WorkerURL     string `json:"workerUrl,omitempty"`
	WorkerVersion string `json:"workerVersion,omitempty"`

	// RequestStream — stream, из которого читаются запросы (consumer group "worker").
	RequestStream string `json:"requestStream"`

	// ResponseStream — stream для audit-копий ответов.
	ResponseStream string `json:"responseStream"`

	// ConsumerID — имя consumer'а внутри группы.
	ConsumerID string `json:"consumerId"`

	// RequestLimit — после скольких запросов worker завершается (0 = без ограничения).
	RequestLimit int `json:"requestLimit"`

	// Зашифрованная секретная конфигурация (см. пакет credentials).
	EncryptedIV   string `json:"encryptedIv,omitempty"`
	EncryptedAlg  string `json:"encryptedAlg,omitempty"`
	EncryptedJSON string `json:"encryptedJson,omitempty"`

	// Lease — текущий владелец записи (поле pid).
	Lease Lease `json:"pid"`
}

// IdentityFromHash собирает WorkerIdentity из полей hash'а.
func IdentityFromHash(key string, fields map[string]string) (*WorkerIdentity, error) {
	id := &WorkerIdentity{
		Key:            key,
		WorkerURL:      fields[FieldWorkerURL],
		WorkerVersion:  fields[FieldWorkerVersion],
		RequestStream:  fields[FieldRequestStream],
		ResponseStream: fields[FieldResponseStream],
		ConsumerID:     fields[FieldConsumerID],
		EncryptedIV:    fields[FieldEncryptedIV],
		EncryptedAlg:   fields[FieldEncryptedAlg],
		EncryptedJSON:  fields[FieldEncryptedJSON],
		Lease:          LeaseFromPID(fields[FieldPID]),
	}

	if v := fields[FieldRequestLimit]; v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return nil, fmt.Errorf("%s: invalid %s %q", key, FieldRequestLimit, v)
		}
		id.RequestLimit = limit
	}

	return id, nil
}

// Hash возвращает поля для записи в Redis. Поле pid не включается:
// им управляет только worker (Claim/Release).
func (w *WorkerIdentity) Hash() map[string]any {
	fields := map[string]any{
		FieldRequestStream:  w.RequestStream,
		FieldResponseStream: w.ResponseStream,
		FieldConsumerID:     w.ConsumerID,
		FieldRequestLimit:   strconv.Itoa(w.RequestLimit),
	}
	optional := map[string]string{
		FieldWorkerURL:     w.WorkerURL,
		FieldWorkerVersion: w.WorkerVersion,
		FieldEncryptedIV:   w.EncryptedIV,
		FieldEncryptedAlg:  w.EncryptedAlg,
		FieldEncryptedJSON: w.EncryptedJSON,
	}
	for k, v := range optional {
		if v != "" {
			fields[k] = v
		}
	}
	return fields
}

// Validate проверяет, что запись пригодна для запуска worker'а.
func (w *WorkerIdentity) Validate() error {
	switch {
	case w.RequestStream == "":
		return fmt.Errorf("%s: missing %s", w.Key, FieldRequestStream)
	case w.ResponseStream == "":
		return fmt.Errorf("%s: missing %s", w.Key, FieldResponseStream)
	case w.ConsumerID == "":
		return fmt.Errorf("%s: missing %s", w.Key, FieldConsumerID)
	}
	return nil
}

// IdentityKey строит ключ identity hash'а.
func IdentityKey(workerClass, consumerID string) string {
	return workerClass + ":" + consumerID + ":h"
}

// ParseIdentityKey разбирает ключ {workerClass}:{consumerId}:h.
//
// workerClass может сам содержать ':', consumerId — нет.
func ParseIdentityKey(key string) (workerClass, consumerID string, err error) {
	rest, ok := strings.CutSuffix(key, ":h")
	if !ok {
		return "", "", fmt.Errorf("%w: expecting ':h' postfix: %s", ErrInvalidIdentityKey, key)
	}

	i := strings.LastIndex(rest, ":")
	if i <= 0 || i == len(rest)-1 {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidIdentityKey, key)
	}

	return rest[:i], rest[i+1:], nil
}
