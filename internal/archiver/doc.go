// Package archiver переносит ответы из response streams в PostgreSQL.
//
// Response stream хранит audit-копию каждого ответа, но обрезается по
// расписанию (см. пакет scheduler). Архиватор читает streams через свою
// consumer group "archive", вставляет записи в таблицу responses и
// публикует событие response.archived в RabbitMQ.
//
// Гарантия: запись подтверждается только после вставки, поэтому при сбое
// она будет заархивирована повторно; вставка идемпотентна по (stream, id).
package archiver
