package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gammadia/fleet/config"
	"github.com/gammadia/fleet/graph"
	"github.com/gammadia/fleet/rpc"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/samber/lo"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type kind struct {
	timeout  func(config.Config) time.Duration
	validate func(parameters map[string]any) error
	build    func(env Env, parameters map[string]any) (Engine, error)
}

// define binds a task type to its parameter struct P. Parameters are decoded over defaults
// and validated before build is called.
func define[P any](defaults P, timeout func(config.Config) time.Duration, build func(Env, P) Engine) kind {
	return kind{
		timeout: timeout,
		validate: func(parameters map[string]any) error {
			_, err := decode(defaults, parameters)
			return err
		},
		build: func(env Env, parameters map[string]any) (Engine, error) {
			params, err := decode(defaults, parameters)
			if err != nil {
				return nil, err
			}
			return build(env, params), nil
		},
	}
}

func decode[P any](defaults P, parameters map[string]any) (P, error) {
	params := defaults
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &params,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return params, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(parameters); err != nil {
		return params, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}
	if err := validate.Struct(params); err != nil {
		return params, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}
	return params, nil
}

// Registry is the closed set of task types. It builds the Job executing a dispatched task.
type Registry struct {
	kinds  map[string]kind
	client *rpc.Client
	config config.Config
	log    *slog.Logger
}

func NewRegistry(client *rpc.Client, config config.Config) *Registry {
	return &Registry{
		kinds:  builtinKinds(),
		client: client,
		config: config,
		log:    config.Logger,
	}
}

func builtinKinds() map[string]kind {
	return map[string]kind{
		"puppet":       puppetKind(),
		"shell":        shellKind(),
		"sync":         syncKind(),
		"cobbler_sync": cobblerSyncKind(),
		"upload_file":  uploadFileKind(),
		"upload_files": uploadFilesKind(),
		"copy_files":   copyFilesKind(),
		"reboot":       rebootKind(),
		"noop":         noopKind(),
		"stage":        noopKind(),
		"skipped":      noopKind(),
	}
}

// Types lists the known task types, sorted.
func (r *Registry) Types() []string {
	types := lo.Keys(r.kinds)
	sort.Strings(types)
	return types
}

// Validate checks the type and the parameters of a task without building it.
func (r *Registry) Validate(taskType string, parameters map[string]any) error {
	k, ok := r.kinds[taskType]
	if !ok {
		return fmt.Errorf("%w: '%s'", ErrUnknownType, taskType)
	}
	if err := k.validate(parameters); err != nil {
		return fmt.Errorf("%s: %w", taskType, err)
	}
	return nil
}

// New builds the job for a dispatch of task.
func (r *Registry) New(task *graph.Task) (*Job, error) {
	taskType := task.Type()
	k, ok := r.kinds[taskType]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownType, taskType)
	}

	parameters := Parameters(task)
	log := r.log.With("node", task.Node, "task", task.Name, "type", taskType)
	engine, err := k.build(Env{
		Node:   task.Node,
		Task:   task.Name,
		Client: r.client,
		Config: r.config,
		Log:    log,
	}, parameters)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", taskType, err)
	}

	timeout := r.config.TaskTimeout
	if k.timeout != nil {
		timeout = k.timeout(r.config)
	}
	if seconds, ok := parameters["timeout"]; ok {
		if override, err := toSeconds(seconds); err == nil && override > 0 {
			timeout = override
		}
	}
	return NewJob(engine, timeout, log), nil
}

// Parameters returns the parameter map of a task descriptor.
func Parameters(task *graph.Task) map[string]any {
	if parameters, ok := task.Data["parameters"].(map[string]any); ok {
		return parameters
	}
	return map[string]any{}
}

func toSeconds(value any) (time.Duration, error) {
	var seconds float64
	if err := mapstructure.WeakDecode(value, &seconds); err != nil {
		return 0, err
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
