// Package credentials расшифровывает секретную конфигурацию worker'а.
//
// Секрет хранится в worker identity в двух полях:
//   - encryptedIv   — hex IV
//   - encryptedJson — base64 ciphertext (AES-CBC, PKCS7)
//
// Ключ в identity не хранится. Он передаётся процессу при старте через
// управляющий канал (stdin) в виде строки:
//
//	worker-v0 <hex key>
//
// После расшифровки поле "type" секрета должно совпасть с типом worker'а,
// иначе worker не стартует.
package credentials
