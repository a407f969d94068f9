package cli

import (
	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/store"
)

// Env — окружение команд: coordination store и класс worker'а.
type Env struct {
	Store *store.Store

	// Class — класс worker'а: определяет имена streams и identity.
	Class string

	// WorkerURL и WorkerVersion записываются в identity при setup-worker.
	WorkerURL     string
	WorkerVersion string
}

// RequestStream возвращает ключ request stream класса.
func (e *Env) RequestStream() string {
	return domain.RequestStreamKey(e.Class)
}

// ResponseStream возвращает ключ response stream класса.
func (e *Env) ResponseStream() string {
	return domain.ResponseStreamKey(e.Class)
}

// WorkerKey возвращает ключ identity для consumerID.
func (e *Env) WorkerKey(consumerID string) string {
	return domain.IdentityKey(e.Class, consumerID)
}

// EnvFunc лениво создаёт Env после парсинга PersistentFlags.
type EnvFunc func() (*Env, error)

// OutputFunc лениво создаёт Output после парсинга PersistentFlags.
type OutputFunc func() *Output

// NewCommands возвращает все команды, работающие с coordination store.
func NewCommands(envFn EnvFunc, outputFn OutputFunc) []*cobra.Command {
	return []*cobra.Command{
		NewInfoCmd(envFn, outputFn),
		NewShowDefaultSetupCmd(envFn, outputFn),
		NewCreateReqStreamCmd(envFn, outputFn),
		NewDeleteReqStreamCmd(envFn, outputFn),
		NewSetupWorkerCmd(envFn, outputFn),
		NewShowWorkerCmd(envFn, outputFn),
		NewReleaseWorkerCmd(envFn, outputFn),
		NewXAddReqCmd(envFn, outputFn),
		NewXRangeCmd("xrange-req", "Show messages in the request stream", (*Env).RequestStream, envFn, outputFn),
		NewXRangeCmd("xrange-res", "Show messages in the response stream", (*Env).ResponseStream, envFn, outputFn),
		NewXTrimCmd("xtrim-req", "Trim the request stream", (*Env).RequestStream, envFn, outputFn),
		NewXTrimCmd("xtrim-res", "Trim the response stream", (*Env).ResponseStream, envFn, outputFn),
		NewPendingCmd(envFn, outputFn),
	}
}
