package worker

import "fmt"

// AckMode — когда запрос считается подтверждённым в consumer group.
type AckMode string

const (
	// AckOnRespond — XACK выполняется в одной транзакции с доставкой ответа.
	// Запрос, на который не ушёл ответ, остаётся в pending entries list.
	AckOnRespond AckMode = "respond"

	// AckOnDequeue — запрос читается с NOACK и сразу считается доставленным.
	AckOnDequeue AckMode = "dequeue"
)

// ParseAckMode разбирает строковое значение AckMode.
func ParseAckMode(s string) (AckMode, error) {
	switch m := AckMode(s); m {
	case AckOnRespond, AckOnDequeue:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAckMode, s)
	}
}

// MissingRefPolicy — что делать с запросом без ref.
type MissingRefPolicy string

const (
	// MissingRefCount — увеличить счётчик err:ref в identity и продолжить.
	MissingRefCount MissingRefPolicy = "count"

	// MissingRefFail — завершить цикл с ErrMissingRef.
	MissingRefFail MissingRefPolicy = "fail"
)

// ParseMissingRefPolicy разбирает строковое значение MissingRefPolicy.
func ParseMissingRefPolicy(s string) (MissingRefPolicy, error) {
	switch p := MissingRefPolicy(s); p {
	case MissingRefCount, MissingRefFail:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMissingRefPolicy, s)
	}
}

// State — состояние цикла обработки.
type State int

const (
	StateClaiming State = iota
	StatePolling
	StateProcessing
	StateResponding
	StateTerminated
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateClaiming:
		return "claiming"
	case StatePolling:
		return "polling"
	case StateProcessing:
		return "processing"
	case StateResponding:
		return "responding"
	case StateTerminated:
		return "terminated"
	case StateFatal:
		return "fatal"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
