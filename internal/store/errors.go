package store

import "errors"

// Ошибки store.
var (
	// ErrIdentityNotFound — identity hash отсутствует.
	ErrIdentityNotFound = errors.New("worker identity not found")

	// ErrAlreadyClaimed — identity уже захвачена другим процессом (pid не пустой).
	ErrAlreadyClaimed = errors.New("worker identity already claimed")

	// ErrClaimRace — identity изменилась между проверкой и захватом.
	ErrClaimRace = errors.New("worker identity changed during claim")

	// ErrOwnershipRevoked — pid удалён или изменён извне.
	ErrOwnershipRevoked = errors.New("worker identity ownership revoked")

	// ErrGroupExists — consumer group уже существует (не фатально для setup).
	ErrGroupExists = errors.New("consumer group already exists")

	// ErrGroupNotFound — consumer group отсутствует.
	ErrGroupNotFound = errors.New("consumer group not found")

	// ErrStreamNotFound — stream отсутствует.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrProtocol — ответ Redis нарушает ожидаемый протокол
	// (например, XREADGROUP COUNT 1 вернул больше одного сообщения).
	ErrProtocol = errors.New("stream protocol violation")

	// ErrNoResponse — ответ не появился за время ожидания.
	ErrNoResponse = errors.New("no response")
)
