package cli

import (
	stderrors "errors"
	"sync"

	"github.com/alecthomas/kong"
	"github.com/goliatone/go-errors"
)

const (
	CodeNilCommand         = "NIL_COMMAND"
	CodeAlreadyInitialized = "REGISTRY_ALREADY_INITIALIZED"
	CodeNotInitialized     = "REGISTRY_NOT_INITIALIZED"
	CodeMissingName        = "CLI_NAME_MISSING"
	CodePathEmpty          = "CLI_PATH_EMPTY"
	CodePathConflict       = "CLI_PATH_CONFLICT"
)

// Registry collects commands and turns them into kong options once.
// Root level commands become kong dynamic commands, nested ones are
// embedded as a generated struct tree.
type Registry struct {
	mu          sync.RWMutex
	commands    []Command
	initialized bool
	options     []kong.Option
	names       map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		options: make([]kong.Option, 0),
		names:   make(map[string]struct{}),
	}
}

func (r *Registry) Register(cmd Command) error {
	if cmd == nil {
		return errors.New("command cannot be nil", errors.CategoryBadInput).
			WithTextCode(CodeNilCommand)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return errors.New("cannot register commands after registry has been initialized", errors.CategoryConflict).
			WithTextCode(CodeAlreadyInitialized)
	}
	r.commands = append(r.commands, cmd)
	return nil
}

// Initialize builds the kong options. Every registration failure is
// joined into the returned error; the registry is initialized either way.
func (r *Registry) Initialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return errors.New("registry already initialized", errors.CategoryConflict).
			WithTextCode(CodeAlreadyInitialized)
	}

	var errs error
	tree := newNode("")
	for _, cmd := range r.commands {
		opts := cmd.CLIOptions()
		path := opts.path()
		if len(path) == 0 {
			errs = stderrors.Join(errs, errors.New("cli command needs a name or path", errors.CategoryBadInput).
				WithTextCode(CodeMissingName))
			continue
		}

		if len(path) == 1 {
			if err := r.registerRoot(path[0], opts, cmd.CLIHandler()); err != nil {
				errs = stderrors.Join(errs, err)
			}
			continue
		}

		if _, taken := r.names[path[0]]; taken {
			errs = stderrors.Join(errs, conflict(path[0]))
			continue
		}
		if err := tree.insert(path, opts, cmd.CLIHandler()); err != nil {
			errs = stderrors.Join(errs, err)
		}
	}

	for name := range tree.children {
		if _, taken := r.names[name]; taken {
			errs = stderrors.Join(errs, conflict(name))
			delete(tree.children, name)
		}
	}

	embedded, err := embedOptions(tree)
	if err != nil {
		errs = stderrors.Join(errs, err)
	} else {
		r.options = append(r.options, embedded...)
	}

	r.initialized = true
	return errs
}

func (r *Registry) registerRoot(name string, opts Config, handler any) error {
	if _, taken := r.names[name]; taken {
		return conflict(name)
	}
	r.names[name] = struct{}{}
	r.options = append(r.options, kong.DynamicCommand(
		name,
		opts.Description,
		opts.Group,
		handler,
		opts.BuildTags()...,
	))
	return nil
}

func conflict(name string) error {
	return errors.New("cli command already registered for path", errors.CategoryConflict).
		WithTextCode(CodePathConflict).
		WithMetadata(map[string]any{"path": name})
}

// Options returns a copy of the kong options built by Initialize.
func (r *Registry) Options() ([]kong.Option, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.initialized {
		return nil, errors.New("registry not initialized", errors.CategoryConflict).
			WithTextCode(CodeNotInitialized)
	}

	options := make([]kong.Option, len(r.options))
	copy(options, r.options)
	return options, nil
}
