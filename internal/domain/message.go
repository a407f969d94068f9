package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Поля сообщения в request stream.
const (
	FieldRef  = "ref"
	FieldType = "type"
)

// StreamID — идентификатор записи stream'а: (unixMs, seqNo).
//
// Назначается Redis при XADD и монотонно растёт в пределах stream'а.
type StreamID struct {
	UnixMs uint64
	SeqNo  uint64
}

// ParseStreamID разбирает идентификатор вида "1700000000000-0".
func ParseStreamID(s string) (StreamID, error) {
	msPart, seqPart, ok := strings.Cut(s, "-")
	if !ok {
		return StreamID{}, fmt.Errorf("invalid stream id %q", s)
	}

	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return StreamID{}, fmt.Errorf("invalid stream id %q: %w", s, err)
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return StreamID{}, fmt.Errorf("invalid stream id %q: %w", s, err)
	}

	return StreamID{UnixMs: ms, SeqNo: seq}, nil
}

func (id StreamID) String() string {
	return strconv.FormatUint(id.UnixMs, 10) + "-" + strconv.FormatUint(id.SeqNo, 10)
}

// Less сравнивает идентификаторы в порядке stream'а.
func (id StreamID) Less(other StreamID) bool {
	if id.UnixMs != other.UnixMs {
		return id.UnixMs < other.UnixMs
	}
	return id.SeqNo < other.SeqNo
}

// Message — запрос, доставленный из request stream.
type Message struct {
	// ID — идентификатор записи в stream'е.
	ID StreamID

	// Ref — correlation id, выбранный вызывающей стороной (обязателен).
	Ref string

	// Type — тип запроса, должен совпадать с типом worker'а.
	Type string

	// Payload — остальные поля записи.
	Payload map[string]string
}

// MessageFromFields собирает Message из полей записи stream'а.
func MessageFromFields(id StreamID, fields map[string]string) *Message {
	msg := &Message{
		ID:      id,
		Ref:     fields[FieldRef],
		Type:    fields[FieldType],
		Payload: make(map[string]string, len(fields)),
	}
	for k, v := range fields {
		if k == FieldRef || k == FieldType {
			continue
		}
		msg.Payload[k] = v
	}
	return msg
}
