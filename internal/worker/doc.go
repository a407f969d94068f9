// Package worker обрабатывает запросы из request stream.
//
// # Обзор
//
// Worker — один экземпляр обработчика, привязанный к worker identity
// (hash "{class}:{consumerId}:h"). Экземпляр отвечает за:
//
//   - Захват identity: запись своего pid в поле "pid" (только если поле пусто)
//   - Чтение запросов из request stream через consumer group "worker"
//   - Проверку ref и type каждого запроса
//   - Вызов бизнес-логики (Handler)
//   - Атомарную доставку ответа вызывающей стороне
//
// Workers масштабируются горизонтально — несколько экземпляров с разными
// consumerId читают один request stream, и каждая запись достаётся одному из них.
//
// # Ключевые компоненты
//
// ## Worker
//
// Создаётся через New(cfg Config) и запускается методом Run(ctx):
//
//	w, err := worker.New(worker.Config{
//	    Store:      store.New(rdb),
//	    Identity:   identity,
//	    WorkerType: "demo-worker",
//	    Handler:    handler,
//	    Logger:     logger,
//	})
//	if err != nil {
//	    return err
//	}
//	return w.Run(ctx)
//
// ## Handler
//
// Бизнес-логика:
//
//	type Handler interface {
//	    Handle(ctx context.Context, payload map[string]string) (map[string]any, error)
//	}
//
// EchoHandler — демонстрационная реализация.
//
// # Обработка запроса
//
//  1. XREADGROUP COUNT 1 BLOCK blockMs (таймаут — следующая итерация)
//  2. Нет ref → счётчик err:ref (или фатальная ошибка при MissingRefFail)
//  3. type ≠ тип worker'а → code=400, счётчик err:type
//  4. Handler → code=200 или code=500 с текстом ошибки и payload
//  5. MULTI: LPUSH res:{ref} + EXPIRE, XADD в response stream,
//     HSET req:{ref}:h, XACK (AckOnRespond); EXEC
//
// Перед каждым чтением проверяется, что pid в identity всё ещё наш.
// Если pid удалён или изменён, цикл завершается с store.ErrOwnershipRevoked.
//
// # Завершение
//
// Run возвращает nil, когда обработано requestLimit сообщений (0 — без
// ограничения) или отменён ctx. В обоих случаях pid освобождается.
package worker
