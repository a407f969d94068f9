package domain

// Имена ключей Redis.
//
//	{class}:req:x      — request stream
//	{class}:res:x      — response stream
//	{class}:{id}:h     — worker identity
//	res:{ref}          — список с ответом для вызывающей стороны (TTL)
//	req:{ref}:h        — trace запроса

// DefaultGroup — consumer group, через которую worker'ы читают request stream.
const DefaultGroup = "worker"

// RequestStreamKey возвращает имя request stream'а для класса worker'ов.
func RequestStreamKey(workerClass string) string {
	return workerClass + ":req:x"
}

// ResponseStreamKey возвращает имя response stream'а для класса worker'ов.
func ResponseStreamKey(workerClass string) string {
	return workerClass + ":res:x"
}

// ResponseListKey возвращает ключ списка, в который кладётся ответ.
func ResponseListKey(ref string) string {
	return "res:" + ref
}

// TraceKey возвращает ключ trace hash'а запроса.
func TraceKey(ref string) string {
	return "req:" + ref + ":h"
}

// TraceField возвращает имя поля trace hash'а для типа worker'а.
// Один запрос может пройти через несколько типов worker'ов, у каждого своё поле.
func TraceField(workerType string) string {
	return workerType + ":trace"
}
