// Package config читает конфигурацию сервисов Conveyor из окружения.
//
// Используется viper: каждый ключ (redis_url, block_ms, ...) берётся из
// одноимённой переменной окружения в верхнем регистре (REDIS_URL, BLOCK_MS),
// а при её отсутствии — из значения по умолчанию.
//
// Конфигурация worker'а, архиватора и CLI разделена: каждый бинарник
// загружает только свою структуру (LoadWorker, LoadArchiver, LoadCLI).
package config
