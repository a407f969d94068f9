// Package store — coordination store поверх Redis.
//
// Структура:
//   - client.go   — подключение (REDIS_URL), Store
//   - identity.go — worker identity: загрузка, регистрация, захват pid (Claim/VerifyOwner/Release)
//   - stream.go   — request/response streams: consumer group, XREADGROUP, XACK, XRANGE, XTRIM
//   - delivery.go — атомарная доставка ответа (MULTI/EXEC) и ожидание ответа (BRPOP)
//
// Захват identity — кооперативная блокировка: поле pid проверяется и
// устанавливается под WATCH, но fencing-токенов нет. Оператор может
// отозвать владение, удалив pid (ForceRelease); worker заметит это
// на следующей итерации цикла.
//
// Ошибки:
//   - ErrGroupExists отличается от прочих ошибок XGROUP CREATE и не фатальна для setup
//   - ErrAlreadyClaimed, ErrOwnershipRevoked, ErrProtocol фатальны для worker'а
package store
