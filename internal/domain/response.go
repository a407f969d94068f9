package domain

import (
	"encoding/json"
	"time"
)

// Коды результата (в духе HTTP).
const (
	CodeOK       = 200
	CodeRejected = 400
	CodeFailed   = 500
)

// ErrorBody — описание ошибки в результате.
type ErrorBody struct {
	Message string `json:"message"`
}

// Result — результат обработки одного запроса.
//
// Кодируется в JSON плоско: поля бизнес-результата (Data) находятся
// на верхнем уровне рядом с code и ref:
//
//	{"code":200,"data":"ok","ref":"abc"}
//	{"code":500,"err":{"message":"boom"},"payload":{...},"ref":"abc"}
type Result struct {
	Ref     string
	Code    int
	Data    map[string]any
	Err     *ErrorBody
	Payload map[string]string
}

// Success строит результат с кодом 200.
func Success(ref string, data map[string]any) Result {
	return Result{Ref: ref, Code: CodeOK, Data: data}
}

// Failure строит результат с кодом 500 для ошибки бизнес-логики.
// Исходный payload прикладывается для диагностики.
func Failure(ref string, err error, payload map[string]string) Result {
	return Result{Ref: ref, Code: CodeFailed, Err: &ErrorBody{Message: err.Error()}, Payload: payload}
}

// Rejected строит результат с кодом 400 для запроса, не прошедшего валидацию.
func Rejected(ref, message string) Result {
	return Result{Ref: ref, Code: CodeRejected, Err: &ErrorBody{Message: message}}
}

// OK возвращает true для успешного результата.
func (r Result) OK() bool {
	return r.Code == CodeOK
}

// MarshalJSON кодирует результат плоским объектом.
// Зарезервированные поля (code, ref, err, payload) имеют приоритет над Data.
func (r Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Data)+4)
	for k, v := range r.Data {
		out[k] = v
	}
	out["code"] = r.Code
	out["ref"] = r.Ref
	if r.Err != nil {
		out["err"] = r.Err
	}
	if r.Payload != nil {
		out["payload"] = r.Payload
	}
	return json.Marshal(out)
}

// UnmarshalJSON разбирает плоский объект обратно в Result.
func (r *Result) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*r = Result{}
	if v, ok := raw["code"]; ok {
		if err := json.Unmarshal(v, &r.Code); err != nil {
			return err
		}
		delete(raw, "code")
	}
	if v, ok := raw["ref"]; ok {
		if err := json.Unmarshal(v, &r.Ref); err != nil {
			return err
		}
		delete(raw, "ref")
	}
	if v, ok := raw["err"]; ok {
		r.Err = &ErrorBody{}
		if err := json.Unmarshal(v, r.Err); err != nil {
			return err
		}
		delete(raw, "err")
	}
	if v, ok := raw["payload"]; ok {
		if err := json.Unmarshal(v, &r.Payload); err != nil {
			return err
		}
		delete(raw, "payload")
	}

	if len(raw) > 0 {
		r.Data = make(map[string]any, len(raw))
		for k, v := range raw {
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return err
			}
			r.Data[k] = val
		}
	}
	return nil
}

// Trace — запись о получении и завершении запроса.
type Trace struct {
	Received  int64  `json:"received"`
	Completed int64  `json:"completed"`
	Res       string `json:"res"`
}

// NewTrace строит trace для результата.
func NewTrace(received, completed time.Time, res []byte) Trace {
	return Trace{
		Received:  received.UnixMilli(),
		Completed: completed.UnixMilli(),
		Res:       string(res),
	}
}

// Delivery — всё, что нужно записать атомарно для одного ответа:
// список res:{ref}, запись в response stream и trace req:{ref}:h.
type Delivery struct {
	// Ref — correlation id запроса.
	Ref string

	// WorkerType — тип worker'а, записывается в response stream и в имя поля trace.
	WorkerType string

	// MessageID — идентификатор исходного запроса в request stream.
	MessageID StreamID

	Result Result
	Trace  Trace

	// TTL — время жизни списка res:{ref}, если результат никто не забрал.
	TTL time.Duration

	// ResponseStream — stream для audit-копии.
	ResponseStream string

	// AckStream и AckGroup — если заданы, исходный запрос подтверждается
	// (XACK) в той же транзакции.
	AckStream string
	AckGroup  string
}

// Поля записи response stream.
const (
	FieldResponseXID  = "xid"
	FieldResponseCode = "code"
	FieldResponseRes  = "res"
)

// ResponseEntry — запись response stream, прочитанная обратно (архиватор, CLI).
type ResponseEntry struct {
	Stream    string    `json:"stream"`
	ID        string    `json:"id"`
	Ref       string    `json:"ref"`
	Type      string    `json:"type"`
	RequestID string    `json:"xid"`
	Code      int       `json:"code"`
	Result    string    `json:"res"`
	CreatedAt time.Time `json:"created_at"`
}
