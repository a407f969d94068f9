package credentials

import "errors"

// Ошибки bootstrap'а. Все они фатальны для старта worker'а.
var (
	// ErrKeyTag — управляющий канал не начинается с "worker-v0".
	ErrKeyTag = errors.New("invalid key tag")

	// ErrKeyEncoding — ключ не является hex-строкой.
	ErrKeyEncoding = errors.New("invalid key encoding")

	// ErrKeyLength — длина ключа не подходит для AES.
	ErrKeyLength = errors.New("invalid key length")

	// ErrEncoding — IV или ciphertext закодированы неверно.
	ErrEncoding = errors.New("invalid encoding")

	// ErrPadding — неверный PKCS7 padding (обычно — неверный ключ).
	ErrPadding = errors.New("invalid padding")

	// ErrSecretJSON — расшифрованный секрет не является JSON-объектом.
	ErrSecretJSON = errors.New("invalid secret json")

	// ErrUnsupportedAlg — неизвестный encryptedAlg.
	ErrUnsupportedAlg = errors.New("unsupported encryption algorithm")

	// ErrNoSecret — в identity нет зашифрованного секрета.
	ErrNoSecret = errors.New("identity has no encrypted secret")

	// ErrTypeMismatch — тип секрета не совпадает с типом worker'а.
	ErrTypeMismatch = errors.New("secret type mismatch")
)
