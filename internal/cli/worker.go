package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/domain"
)

// NewSetupWorkerCmd пересоздаёт identity hash worker'а.
func NewSetupWorkerCmd(envFn EnvFunc, outputFn OutputFunc) *cobra.Command {
	var (
		responseStream string
		requestLimit   int
		encryptedIV    string
		encryptedAlg   string
		encryptedJSON  string
	)

	cmd := &cobra.Command{
		Use:   "setup-worker CONSUMER_ID",
		Short: "Setup hashes for a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFn()
			if err != nil {
				return err
			}
			if requestLimit < 0 {
				return fmt.Errorf("invalid request limit %d", requestLimit)
			}
			if responseStream == "" {
				responseStream = env.ResponseStream()
			}

			identity := &domain.WorkerIdentity{
				Key:            env.WorkerKey(args[0]),
				WorkerURL:      env.WorkerURL,
				WorkerVersion:  env.WorkerVersion,
				RequestStream:  env.RequestStream(),
				ResponseStream: responseStream,
				ConsumerID:     args[0],
				RequestLimit:   requestLimit,
				EncryptedIV:    encryptedIV,
				EncryptedAlg:   encryptedAlg,
				EncryptedJSON:  encryptedJSON,
			}
			if err := identity.Validate(); err != nil {
				return err
			}
			if err := env.Store.RegisterIdentity(cmd.Context(), identity); err != nil {
				return err
			}

			fields, err := env.Store.IdentityFields(cmd.Context(), identity.Key)
			if err != nil {
				return err
			}
			outputFn().Fields(identity.Key, fields)
			return nil
		},
	}

	cmd.Flags().StringVar(&responseStream, "response-stream", "", "Response stream (defaults to {class}:res:x)")
	cmd.Flags().IntVar(&requestLimit, "request-limit", 0, "Exit after this many requests (0 = unlimited)")
	cmd.Flags().StringVar(&encryptedIV, "encrypted-iv", "", "Hex IV of the encrypted secret")
	cmd.Flags().StringVar(&encryptedAlg, "encrypted-alg", "", "Cipher of the encrypted secret (aes-cbc)")
	cmd.Flags().StringVar(&encryptedJSON, "encrypted-json", "", "Base64 ciphertext of the secret JSON")

	return cmd
}

// NewShowWorkerCmd показывает identity hash worker'а.
func NewShowWorkerCmd(envFn EnvFunc, outputFn OutputFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "show-worker CONSUMER_ID",
		Short: "Show a worker's hashes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFn()
			if err != nil {
				return err
			}
			key := env.WorkerKey(args[0])

			fields, err := env.Store.IdentityFields(cmd.Context(), key)
			if err != nil {
				return err
			}
			outputFn().Fields(key, fields)
			return nil
		},
	}
}

// NewReleaseWorkerCmd удаляет pid из identity.
// Работающий worker заметит это перед следующим чтением и завершится.
func NewReleaseWorkerCmd(envFn EnvFunc, outputFn OutputFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "release-worker CONSUMER_ID",
		Short: "Clear a worker's pid so that it exits and the identity can be claimed again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFn()
			if err != nil {
				return err
			}
			key := env.WorkerKey(args[0])

			if _, err := env.Store.IdentityFields(cmd.Context(), key); err != nil {
				return err
			}
			prev, err := env.Store.ForceRelease(cmd.Context(), key)
			if err != nil {
				return err
			}

			out := outputFn()
			if !prev.Claimed() {
				out.Warn("Not claimed:", key)
				return nil
			}
			out.Success(fmt.Sprintf("Released %s (was %s)", key, prev))
			return nil
		},
	}
}
