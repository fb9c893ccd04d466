// Command orderctl drives the order operations console from a terminal.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	orderops "github.com/goliatone/go-orderops"
	"github.com/goliatone/go-orderops/cli"
	"github.com/goliatone/go-orderops/config"
	"github.com/goliatone/go-orderops/console"
	"github.com/goliatone/go-orderops/permission"
)

var version = "dev"

// Globals are shared by every command.
type Globals struct {
	Config       string           `help:"YAML config file." type:"path" env:"ORDEROPS_CONFIG"`
	BaseURL      string           `name:"base-url" help:"Backend base URL, overrides the config file."`
	Actor        string           `help:"Acting operator id." env:"ORDEROPS_ACTOR"`
	Roles        []string         `help:"Operator roles." env:"ORDEROPS_ROLES"`
	Capabilities []string         `help:"Operator capabilities, * grants all." env:"ORDEROPS_CAPABILITIES"`
	JSON         bool             `help:"Print JSON instead of text."`
	LogLevel     string           `name:"log-level" help:"Log level override."`
	Version      kong.VersionFlag `help:"Print the version and exit."`
}

// App is bound into every command's Run method.
type App struct {
	Globals *Globals
	Out     io.Writer
	Err     io.Writer
	Env     []config.Option

	ctx     context.Context
	console *console.Console
}

// errReported marks a failure whose report was already printed.
var errReported = stderrors.New("action failed")

func (a *App) Context() context.Context {
	if a.ctx == nil {
		return context.Background()
	}
	return a.ctx
}

// Config loads the config file and applies flag overrides.
func (a *App) Config() (config.Config, error) {
	cfg, err := config.Load(a.Globals.Config, a.Env...)
	if err != nil {
		return config.Config{}, err
	}
	if a.Globals.BaseURL != "" {
		cfg.Backend.BaseURL = a.Globals.BaseURL
	}
	if a.Globals.LogLevel != "" {
		cfg.Log.Level = a.Globals.LogLevel
	}
	return cfg, cfg.Validate()
}

// Console builds the console on first use.
func (a *App) Console() (*console.Console, error) {
	if a.console != nil {
		return a.console, nil
	}
	cfg, err := a.Config()
	if err != nil {
		return nil, err
	}
	c, err := console.New(cfg, console.WithLogOutput(a.Err))
	if err != nil {
		return nil, err
	}
	a.console = c
	return c, nil
}

func (a *App) Principal() permission.Principal {
	return permission.NewPrincipal(a.Globals.Actor, a.Globals.Roles, a.Globals.Capabilities)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, env ...config.Option) int {
	reg := cli.NewRegistry()
	for _, cmd := range commands() {
		if err := reg.Register(cmd); err != nil {
			fmt.Fprintln(stderr, err)
			return 2
		}
	}
	if err := reg.Initialize(); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	options, err := reg.Options()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	exit := -1
	globals := &Globals{}
	parser, err := kong.New(globals, append(options,
		kong.Name("orderctl"),
		kong.Description("Order operations console."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
		kong.Writers(stdout, stderr),
		kong.Exit(func(code int) { exit = code }),
	)...)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	kctx, err := parser.Parse(args)
	if exit >= 0 {
		return exit
	}
	if err != nil {
		parser.Errorf("%s", err)
		return 2
	}

	app := &App{Globals: globals, Out: stdout, Err: stderr, Env: env, ctx: ctx}
	if err := kctx.Run(app); err != nil {
		if !stderrors.Is(err, errReported) {
			fmt.Fprintf(stderr, "orderctl: %v\n", err)
			if code := orderops.ErrorCode(err); code != "" {
				fmt.Fprintf(stderr, "code: %s\n", code)
			}
		}
		return 1
	}
	return 0
}
