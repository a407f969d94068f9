// Package cli реализует операторский инструмент Conveyor.
//
// # Обзор
//
// CLI работает напрямую с coordination store (Redis): создаёт request
// stream и consumer group, регистрирует worker identities, добавляет
// тестовые запросы и показывает содержимое streams.
//
// # Ключевые компоненты
//
// ## Env
//
// Окружение команд: *store.Store и класс worker'а. Класс определяет
// ключи {class}:req:x, {class}:res:x и {class}:{consumerId}:h.
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) с подсветкой lipgloss — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Warn/Error) — в stderr.
// Это позволяет использовать pipe: conveyor xrange-res --json | jq .
//
// ## Commands
//
// Каждая команда создаётся фабричной функцией (NewInfoCmd и т.д.),
// принимающей envFn и outputFn — замыкания для ленивого создания
// Env и Output после парсинга PersistentFlags.
package cli
