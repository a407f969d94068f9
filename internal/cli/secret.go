package cli

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/credentials"
)

// maxSecretInput — лимит чтения stdin для encrypt-secret.
const maxSecretInput = 64 << 10

// NewEncryptSecretCmd шифрует секрет для поля encryptedJson.
//
// stdin: "<hex key> <hex iv> <base64 plaintext>". stdout: base64 ciphertext.
// Ключ и секрет не передаются аргументами, чтобы не попасть в историю shell'а.
func NewEncryptSecretCmd(outputFn OutputFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt-secret",
		Short: "Encrypt a secret read from stdin as '<hexKey> <hexIv> <base64Plain>'",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), maxSecretInput))
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}

			parts := strings.Fields(string(buf))
			if len(parts) != 3 {
				return fmt.Errorf("expecting '<hexKey> <hexIv> <base64Plain>' on stdin, got %d fields", len(parts))
			}

			key, err := hex.DecodeString(parts[0])
			if err != nil {
				return fmt.Errorf("%w: %v", credentials.ErrKeyEncoding, err)
			}
			plain, err := base64.StdEncoding.DecodeString(parts[2])
			if err != nil {
				return fmt.Errorf("%w: plaintext: %v", credentials.ErrEncoding, err)
			}

			ciphertext, err := credentials.Encrypt(key, parts[1], plain)
			if err != nil {
				return err
			}

			decrypted, err := credentials.Decrypt(key, parts[1], ciphertext)
			if err != nil {
				return err
			}
			if !bytes.Equal(decrypted, plain) {
				return fmt.Errorf("decryption mismatch")
			}

			outputFn().Line(ciphertext)
			return nil
		},
	}
}
