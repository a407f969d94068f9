package credentials

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/shaiso/Conveyor/internal/domain"
)

// KeyTag — обязательный префикс ключа в управляющем канале.
const KeyTag = "worker-v0"

// maxControlBytes — сколько байт читается из управляющего канала.
const maxControlBytes = 256

// Алгоритмы, которые понимает Decrypt.
const (
	AlgAESCBC    = "aes-cbc"
	AlgAES256CBC = "aes-256-cbc"
)

// Secret — расшифрованная секретная конфигурация worker'а.
type Secret map[string]any

// Type возвращает объявленный тип секрета.
func (s Secret) Type() string {
	v, _ := s["type"].(string)
	return v
}

// ReadKey читает ключ из управляющего канала (stdin).
//
// Формат: "worker-v0 <hex key>". Читается не больше 256 байт.
func ReadKey(r io.Reader) ([]byte, error) {
	buf, err := io.ReadAll(io.LimitReader(r, maxControlBytes))
	if err != nil {
		return nil, fmt.Errorf("read control channel: %w", err)
	}

	fields := strings.Fields(string(buf))
	if len(fields) == 0 || fields[0] != KeyTag {
		return nil, fmt.Errorf("%w: expecting %q prefix", ErrKeyTag, KeyTag)
	}
	if len(fields) != 2 {
		return nil, fmt.Errorf("%w: expecting %q followed by a hex key", ErrKeyTag, KeyTag)
	}

	key, err := hex.DecodeString(fields[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyEncoding, err)
	}
	if err := checkKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Decrypt расшифровывает base64 ciphertext (AES-CBC, PKCS7) с hex IV.
func Decrypt(key []byte, ivHex, ciphertextB64 string) ([]byte, error) {
	block, iv, err := newBlock(key, ivHex)
	if err != nil {
		return nil, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrEncoding, err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrPadding, len(ciphertext))
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	return unpad(plain)
}

// Encrypt шифрует plaintext (AES-CBC, PKCS7) и возвращает base64.
func Encrypt(key []byte, ivHex string, plaintext []byte) (string, error) {
	block, iv, err := newBlock(key, ivHex)
	if err != nil {
		return "", err
	}

	padded := pad(plaintext)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptJSON расшифровывает и разбирает JSON-объект секрета.
func DecryptJSON(key []byte, ivHex, ciphertextB64 string) (Secret, error) {
	plain, err := Decrypt(key, ivHex, ciphertextB64)
	if err != nil {
		return nil, err
	}

	var secret Secret
	if err := json.Unmarshal(plain, &secret); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSecretJSON, err)
	}
	return secret, nil
}

// Bootstrap расшифровывает секрет из identity и проверяет его тип.
//
// Секрет, выписанный для другого типа worker'а, — фатальная ошибка старта.
func Bootstrap(key []byte, identity *domain.WorkerIdentity, workerType string) (Secret, error) {
	switch strings.ToLower(identity.EncryptedAlg) {
	case "", AlgAESCBC, AlgAES256CBC, "aes-128-cbc", "aes-192-cbc":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlg, identity.EncryptedAlg)
	}
	if identity.EncryptedIV == "" || identity.EncryptedJSON == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoSecret, identity.Key)
	}

	secret, err := DecryptJSON(key, identity.EncryptedIV, identity.EncryptedJSON)
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: %w", identity.Key, err)
	}

	if secret.Type() != workerType {
		return nil, fmt.Errorf("%w: expecting encryptedJson to have type %s: %q",
			ErrTypeMismatch, workerType, secret.Type())
	}
	return secret, nil
}

func newBlock(key []byte, ivHex string) (cipher.Block, []byte, error) {
	if err := checkKey(key); err != nil {
		return nil, nil, err
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: iv: %v", ErrEncoding, err)
	}
	if len(iv) != aes.BlockSize {
		return nil, nil, fmt.Errorf("%w: iv length %d", ErrEncoding, len(iv))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrKeyLength, err)
	}
	return block, iv, nil
}

func checkKey(key []byte) error {
	switch len(key) {
	case 16, 24, 32:
		return nil
	default:
		return fmt.Errorf("%w: %d bytes", ErrKeyLength, len(key))
	}
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(bytes.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, ErrPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrPadding
		}
	}
	return b[:len(b)-n], nil
}
