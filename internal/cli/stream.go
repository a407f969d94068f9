package cli

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/store"
)

// NewInfoCmd показывает consumer groups request stream'а.
func NewInfoCmd(envFn EnvFunc, outputFn OutputFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show info on the request stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFn()
			if err != nil {
				return err
			}
			out := outputFn()

			groups, err := env.Store.Groups(cmd.Context(), env.RequestStream())
			if errors.Is(err, store.ErrStreamNotFound) {
				return fmt.Errorf("stream does not exist: %s", env.RequestStream())
			}
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				out.Warn("Stream has no consumer groups yet:", env.RequestStream())
				return nil
			}
			if len(groups) > 1 {
				out.Warn("Stream has multiple consumer groups:", env.RequestStream())
			}

			headers := []string{"GROUP", "CONSUMERS", "PENDING", "LAST_DELIVERED", "LAG"}
			rows := make([][]string, len(groups))
			for i, g := range groups {
				rows[i] = []string{
					g.Name,
					strconv.FormatInt(g.Consumers, 10),
					strconv.FormatInt(g.Pending, 10),
					g.LastDeliveredID,
					strconv.FormatInt(g.Lag, 10),
				}
			}
			out.Print(headers, rows, groups)
			return nil
		},
	}
}

// NewShowDefaultSetupCmd показывает ключи, которые используются для класса.
func NewShowDefaultSetupCmd(envFn EnvFunc, outputFn OutputFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "show-default-setup",
		Short: "Show the default worker setup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFn()
			if err != nil {
				return err
			}
			outputFn().Fields(env.Class, map[string]string{
				"requestStream":  env.RequestStream(),
				"responseStream": env.ResponseStream(),
				"group":          domain.DefaultGroup,
				"workerKey":      env.WorkerKey("{consumerId}"),
				"workerUrl":      env.WorkerURL,
				"workerVersion":  env.WorkerVersion,
			})
			return nil
		},
	}
}

// NewCreateReqStreamCmd создаёт request stream вместе с группой "worker".
func NewCreateReqStreamCmd(envFn EnvFunc, outputFn OutputFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "create-req-stream",
		Short: "Create the request message stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFn()
			if err != nil {
				return err
			}
			out := outputFn()

			err = env.Store.CreateGroup(cmd.Context(), env.RequestStream(), domain.DefaultGroup)
			if errors.Is(err, store.ErrGroupExists) {
				out.Warn("Stream exists:", env.RequestStream())
				return err
			}
			if err != nil {
				return err
			}
			out.Success("Stream created: " + env.RequestStream())
			return nil
		},
	}
}

// NewDeleteReqStreamCmd удаляет request stream.
func NewDeleteReqStreamCmd(envFn EnvFunc, outputFn OutputFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-req-stream",
		Short: "Delete the request message stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFn()
			if err != nil {
				return err
			}
			if err := env.Store.DeleteStream(cmd.Context(), env.RequestStream()); err != nil {
				return err
			}
			outputFn().Success("Stream deleted: " + env.RequestStream())
			return nil
		},
	}
}

// NewXAddReqCmd добавляет запрос в request stream и, с --wait, ждёт ответ.
func NewXAddReqCmd(envFn EnvFunc, outputFn OutputFunc) *cobra.Command {
	var (
		reqType string
		fields  []string
		wait    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "xadd-req [REF]",
		Short: "Add a request item to the request stream",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFn()
			if err != nil {
				return err
			}
			out := outputFn()

			ref := uuid.NewString()
			if len(args) == 1 {
				ref = args[0]
			}
			if reqType == "" {
				reqType = env.Class
			}

			values := map[string]any{
				domain.FieldRef:  ref,
				domain.FieldType: reqType,
			}
			if env.WorkerURL != "" {
				values["workerUrl"] = env.WorkerURL
			}
			for _, kv := range fields {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("invalid field format %q, expected KEY=VALUE", kv)
				}
				if k == domain.FieldRef || k == domain.FieldType {
					return fmt.Errorf("field %q is reserved", k)
				}
				values[k] = v
			}

			id, err := env.Store.Append(cmd.Context(), env.RequestStream(), values)
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Request added: ref=%s", ref))
			out.Line(id)

			if wait <= 0 {
				return nil
			}
			res, err := env.Store.WaitResponse(cmd.Context(), ref, wait)
			if err != nil {
				return err
			}
			out.JSON(res)
			return nil
		},
	}

	cmd.Flags().StringVar(&reqType, "type", "", "Request type (defaults to the worker class)")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "Payload field as KEY=VALUE (repeatable)")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait for the response up to this duration")

	return cmd
}

// NewXRangeCmd показывает записи stream'а, выбранного streamFn.
func NewXRangeCmd(use, short string, streamFn func(*Env) string, envFn EnvFunc, outputFn OutputFunc) *cobra.Command {
	var count int64

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFn()
			if err != nil {
				return err
			}

			entries, err := env.Store.Range(cmd.Context(), streamFn(env), count)
			if err != nil {
				return err
			}

			rows := make([][]string, len(entries))
			for i, e := range entries {
				rows[i] = []string{e.ID, formatFields(e.Fields)}
			}
			outputFn().Print([]string{"ID", "FIELDS"}, rows, entries)
			return nil
		},
	}

	cmd.Flags().Int64Var(&count, "count", 99, "Maximum number of entries")
	return cmd
}

// NewXTrimCmd обрезает stream, выбранный streamFn, до MAXLEN записей.
func NewXTrimCmd(use, short string, streamFn func(*Env) string, envFn EnvFunc, outputFn OutputFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " MAXLEN",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxLen, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || maxLen < 0 {
				return fmt.Errorf("invalid MAXLEN %q", args[0])
			}
			env, err := envFn()
			if err != nil {
				return err
			}

			n, err := env.Store.Trim(cmd.Context(), streamFn(env), maxLen)
			if err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Trimmed %d entries from %s", n, streamFn(env)))
			return nil
		},
	}
}

// NewPendingCmd показывает неподтверждённые запросы группы.
func NewPendingCmd(envFn EnvFunc, outputFn OutputFunc) *cobra.Command {
	var group string

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Show unacknowledged requests of a consumer group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFn()
			if err != nil {
				return err
			}

			p, err := env.Store.Pending(cmd.Context(), env.RequestStream(), group)
			if err != nil {
				return err
			}

			consumers := make([]string, 0, len(p.Consumers))
			for name := range p.Consumers {
				consumers = append(consumers, name)
			}
			sort.Strings(consumers)

			rows := make([][]string, 0, len(consumers))
			for _, name := range consumers {
				rows = append(rows, []string{name, strconv.FormatInt(p.Consumers[name], 10)})
			}

			out := outputFn()
			if !out.jsonMode {
				out.Success(fmt.Sprintf("Pending: %d (%s .. %s)", p.Count, p.Lower, p.Higher))
			}
			out.Print([]string{"CONSUMER", "PENDING"}, rows, p)
			return nil
		},
	}

	cmd.Flags().StringVar(&group, "group", domain.DefaultGroup, "Consumer group")
	return cmd
}

func formatFields(fields map[string]string) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "=" + fields[name]
	}
	return strings.Join(parts, " ")
}
