package cli

import (
	"fmt"
	"sync"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runRecorder struct {
	mu   sync.Mutex
	runs []string
}

func (r *runRecorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, name)
}

type greetCmd struct {
	Who string `arg:"" help:"Who to greet."`
	rec *runRecorder
}

func (c *greetCmd) Run() error {
	c.rec.add("greet " + c.Who)
	return nil
}

type testCommand struct {
	cfg     Config
	handler any
}

func (c testCommand) CLIHandler() any    { return c.handler }
func (c testCommand) CLIOptions() Config { return c.cfg }

func newCommand(rec *runRecorder, cfg Config) testCommand {
	return testCommand{cfg: cfg, handler: &greetCmd{rec: rec}}
}

func parse(t *testing.T, reg *Registry, args ...string) (*kong.Context, error) {
	t.Helper()
	options, err := reg.Options()
	require.NoError(t, err)
	parser, err := kong.New(&struct{}{}, append(options, kong.Name("app"), kong.Exit(func(int) {}))...)
	require.NoError(t, err)
	return parser.Parse(args)
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name        string
		cmd         Command
		initialized bool
		wantErr     string
	}{
		{
			name: "valid command",
			cmd:  newCommand(&runRecorder{}, Config{Name: "greet"}),
		},
		{
			name:    "nil command",
			wantErr: "command cannot be nil",
		},
		{
			name:        "registry already initialized",
			cmd:         newCommand(&runRecorder{}, Config{Name: "greet"}),
			initialized: true,
			wantErr:     "cannot register commands after registry has been initialized",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			reg.initialized = tt.initialized

			err := reg.Register(tt.cmd)

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, reg.commands, 1)
		})
	}
}

func TestRootCommandRuns(t *testing.T) {
	rec := &runRecorder{}
	reg := NewRegistry()
	require.NoError(t, reg.Register(newCommand(rec, Config{
		Name:        "greet",
		Description: "Say hello",
		Aliases:     []string{"hi"},
	})))
	require.NoError(t, reg.Initialize())

	ctx, err := parse(t, reg, "greet", "ada")
	require.NoError(t, err)
	require.NoError(t, ctx.Run())

	ctx, err = parse(t, reg, "hi", "grace")
	require.NoError(t, err)
	require.NoError(t, ctx.Run())

	assert.Equal(t, []string{"greet ada", "greet grace"}, rec.runs)
}

func TestNestedCommandRuns(t *testing.T) {
	rec := &runRecorder{}
	reg := NewRegistry()
	require.NoError(t, reg.Register(newCommand(rec, Config{
		Path:   []string{"serve", "api"},
		Groups: []GroupConfig{{Name: "serve", Description: "Run servers"}},
	})))
	require.NoError(t, reg.Register(newCommand(rec, Config{Path: []string{"serve", "mock-backend"}})))
	require.NoError(t, reg.Initialize())

	ctx, err := parse(t, reg, "serve", "mock-backend", "x")
	require.NoError(t, err)
	assert.Equal(t, "serve mock-backend <who>", ctx.Command())
	require.NoError(t, ctx.Run())

	assert.Equal(t, []string{"greet x"}, rec.runs)
}

func TestInitializeConflicts(t *testing.T) {
	tests := []struct {
		name  string
		cmds  []Config
		valid int
	}{
		{
			name:  "duplicate root",
			cmds:  []Config{{Name: "show"}, {Name: "show"}},
			valid: 1,
		},
		{
			name:  "root shadows group",
			cmds:  []Config{{Name: "serve"}, {Path: []string{"serve", "api"}}},
			valid: 1,
		},
		{
			name:  "leaf cannot take children",
			cmds:  []Config{{Path: []string{"serve", "api"}}, {Path: []string{"serve", "api", "v2"}}},
			valid: 1,
		},
		{
			name:  "missing name",
			cmds:  []Config{{Description: "anonymous"}},
			valid: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			for _, cfg := range tt.cmds {
				require.NoError(t, reg.Register(newCommand(&runRecorder{}, cfg)))
			}

			err := reg.Initialize()
			require.Error(t, err)
			assert.True(t, reg.initialized)

			options, err := reg.Options()
			require.NoError(t, err)
			assert.Len(t, options, tt.valid)
		})
	}
}

func TestOptions(t *testing.T) {
	t.Run("not initialized", func(t *testing.T) {
		options, err := NewRegistry().Options()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "registry not initialized")
		assert.Nil(t, options)
	})

	t.Run("returns a copy", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(newCommand(&runRecorder{}, Config{Name: "show"})))
		require.NoError(t, reg.Initialize())

		options, err := reg.Options()
		require.NoError(t, err)
		_ = append(options, kong.DynamicCommand("other", "", "", nil))
		assert.Len(t, reg.options, 1)
	})

	t.Run("initialize twice", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Initialize())
		err := reg.Initialize()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "registry already initialized")
	})
}

func TestRegistryConcurrency(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := reg.Register(newCommand(&runRecorder{}, Config{Name: fmt.Sprintf("cmd-%d", id)})); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	require.NoError(t, reg.Initialize())

	wg = sync.WaitGroup{}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			options, err := reg.Options()
			assert.NoError(t, err)
			assert.Len(t, options, 10)
		}()
	}
	wg.Wait()
}

func TestExportFieldName(t *testing.T) {
	assert.Equal(t, "MockBackend", exportFieldName("mock-backend"))
	assert.Equal(t, "Cmd2fa", exportFieldName("2fa"))
	assert.Equal(t, "Cmd", exportFieldName("--"))
}
