// Package host drives one script and its plugins through the lifecycle:
// load plugins, load the script, attach plugins, check bindings, run main,
// tick while plugins ask for it, then tear everything down in reverse.
package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/andrei-cloud/plugin_runner/internal/builtins"
	"github.com/andrei-cloud/plugin_runner/internal/errorcodes"
	"github.com/andrei-cloud/plugin_runner/internal/logging"
	"github.com/andrei-cloud/plugin_runner/internal/natives"
	"github.com/andrei-cloud/plugin_runner/internal/plugins"
	"github.com/andrei-cloud/plugin_runner/internal/vm"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Exit statuses reported by Run besides the script's own return value.
const (
	StatusFailure   = 1
	StatusExecError = -1
)

// DefaultTickInterval is the pause between two tick rounds.
const DefaultTickInterval = 5 * time.Millisecond

// ErrUnresolvedNatives reports a script referencing natives nobody registered.
var ErrUnresolvedNatives = errors.New("native functions are not registered")

// Controller owns the plugins, the script instance and the keep-ticking flag
// for one run. It is not safe for concurrent use except through Ticks.
type Controller struct {
	engine   vm.Engine
	opener   plugins.Opener
	table    *plugins.ExportTable
	libs     []builtins.Library
	exit     *natives.Exit
	graceful bool
	ticks    *TickControl
	interval time.Duration
	logger   zerolog.Logger

	state    State
	plugins  []*plugins.Plugin
	attached []*plugins.Plugin
	inst     vm.Instance
	handle  uint32
	inited  []builtins.Library
}

// Option configures a Controller.
type Option func(*Controller)

// WithLibraries replaces the built-in libraries initialized into the script.
func WithLibraries(libs ...builtins.Library) Option {
	return func(c *Controller) { c.libs = append([]builtins.Library{}, libs...) }
}

// WithExit replaces the ExitProcess implementation.
func WithExit(exit *natives.Exit) Option {
	return func(c *Controller) { c.exit = exit }
}

// WithGracefulExit makes ExitProcess stop the run instead of the process.
func WithGracefulExit() Option {
	return func(c *Controller) { c.graceful = true }
}

// WithTickInterval sets the pause between tick rounds.
func WithTickInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithLogger sets the parent logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// New returns a controller loading scripts with engine and plugins with
// opener. table must be the export table the opener's modules import.
func New(engine vm.Engine, opener plugins.Opener, table *plugins.ExportTable, opts ...Option) *Controller {
	c := &Controller{
		engine:   engine,
		opener:   opener,
		table:    table,
		ticks:    &TickControl{},
		interval: DefaultTickInterval,
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.libs == nil {
		c.libs = builtins.Default(os.Stdout, afero.NewOsFs())
	}
	if c.exit == nil {
		if c.graceful {
			c.exit = natives.NewExit(natives.Graceful(c.ticks.Stop))
		} else {
			c.exit = natives.NewExit()
		}
	}
	c.logger = c.logger.With().Str("run_id", uuid.NewString()).Logger()
	c.table.SetLogger(c.logger)

	return c
}

// Ticks returns the keep-ticking flag so signal handlers can stop the loop.
func (c *Controller) Ticks() *TickControl {
	return c.ticks
}

// State returns the current lifecycle stage.
func (c *Controller) State() State {
	return c.state
}

// Run executes the whole lifecycle and returns the process exit status: the
// script's return value, StatusExecError when main failed, or StatusFailure
// when the script could not be loaded or has unresolved natives. Teardown
// always runs. Cancelling ctx stops the tick loop.
func (c *Controller) Run(ctx context.Context, inv Invocation) int {
	c.logger.Debug().
		Strs("plugins", inv.Plugins).
		Str("script", inv.Script).
		Strs("options", inv.Options).
		Msg("starting run")

	status := StatusFailure

	c.loadPlugins(ctx, inv.Plugins)

	if err := c.loadScript(ctx, inv.Script); err == nil {
		c.attachPlugins(ctx)
		if err := c.checkNatives(); err == nil {
			status = c.runMain(ctx)
		}
	}

	c.tickLoop(ctx)
	c.teardown(context.WithoutCancel(ctx))

	// A graceful ExitProcess from a tick-driven call overrides main's result.
	if code, ok := c.exit.Requested(); ok {
		status = code
	}

	return status
}

func (c *Controller) setState(s State) {
	logging.LogStage(c.logger, c.state.String(), s.String())
	c.state = s
}

func (c *Controller) loadPlugins(ctx context.Context, paths []string) {
	for _, path := range paths {
		p := plugins.New(c.opener)
		if err := p.Load(ctx, path, c.table); err != nil {
			logging.LogPluginFailed(c.logger, path, err)
			p.Unload(ctx)

			continue
		}

		logging.LogPluginLoaded(c.logger, p.Path(), uint32(p.Flags()))
		c.plugins = append(c.plugins, p)
	}

	c.setState(StatePluginsLoaded)
}

func (c *Controller) loadScript(ctx context.Context, path string) error {
	inst, err := c.engine.Load(ctx, path)
	if err != nil {
		c.logger.Error().Err(err).Str("script", path).Msgf("Could not load script: %s", path)
		return err
	}
	c.inst = inst
	c.handle = c.table.Instances().Add(inst)

	for _, lib := range c.libs {
		if err := lib.Init(inst); err != nil {
			c.logger.Error().Err(err).Str("library", lib.Name()).Msg("failed to initialize library")
			return fmt.Errorf("library %s: %w", lib.Name(), err)
		}
		c.inited = append(c.inited, lib)
	}

	if err := inst.Register(natives.Natives(c.exit)...); err != nil {
		c.logger.Error().Err(err).Msg("failed to register host natives")
		return err
	}

	c.logger.Info().
		Str("event", "script_loaded").
		Str("script", path).
		Uint32("instance", c.handle).
		Int("publics", inst.NumPublics()).
		Msgf("Loaded script: %s", path)
	c.setState(StateScriptLoaded)

	return nil
}

func (c *Controller) attachPlugins(ctx context.Context) {
	for _, p := range c.plugins {
		if p.Flags().HasNatives() {
			code := p.AttachToInstance(ctx, c.handle)
			if code != errorcodes.ErrNone.Code {
				c.logger.Warn().
					Str("plugin", p.Path()).
					Int("code", code).
					Str("error", errorcodes.StrError(code)).
					Msg("plugin failed to attach")
			} else {
				c.attached = append(c.attached, p)
			}
		}
		if p.Flags().HasTick() {
			c.ticks.Request()
		}
	}
}

func (c *Controller) checkNatives() error {
	missing := c.inst.UnresolvedNatives()
	for _, name := range missing {
		c.logger.Error().Str("native", name).Msgf("Native function is not registered: %s", name)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %d missing", ErrUnresolvedNatives, len(missing))
	}

	c.setState(StateNativesChecked)

	return nil
}

func (c *Controller) runMain(ctx context.Context) int {
	c.setState(StateRunning)

	ret, err := c.inst.Exec(ctx, vm.ExecMain)
	if err == nil {
		c.logger.Debug().Int32("retval", int32(ret)).Msg("main returned")
		return int(ret)
	}

	if code, ok := c.exit.Requested(); ok && errors.Is(err, errorcodes.ErrExit) {
		return code
	}

	vmErr := errorcodes.ErrGeneral
	errors.As(err, &vmErr)
	c.logger.Error().
		Err(err).
		Int("code", vmErr.Code).
		Msgf("Error while executing main: %s (%d)", vmErr.Description, vmErr.Code)

	return StatusExecError
}

func (c *Controller) tickLoop(ctx context.Context) {
	if !c.ticks.Active() {
		return
	}

	c.setState(StateTickLoop)
	c.logger.Info().Msg("Running indefinitely because ProcessTick() was requested")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for c.ticks.Active() {
		select {
		case <-ctx.Done():
			c.ticks.Stop()
			return
		case <-ticker.C:
		}

		for _, p := range c.plugins {
			if !c.ticks.Active() {
				break
			}
			if p.IsLoaded() && p.Flags().HasTick() {
				p.Tick(ctx)
			}
		}
	}
}

func (c *Controller) teardown(ctx context.Context) {
	if c.inst != nil {
		for i := len(c.inited) - 1; i >= 0; i-- {
			if err := c.inited[i].Cleanup(c.inst); err != nil {
				c.logger.Error().Err(err).Str("library", c.inited[i].Name()).Msg("library cleanup failed")
			}
		}
		c.inited = nil
	}

	for i := len(c.plugins) - 1; i >= 0; i-- {
		p := c.plugins[i]
		if p.IsLoaded() && slices.Contains(c.attached, p) {
			if code := p.DetachFromInstance(ctx, c.handle); code != errorcodes.ErrNone.Code {
				c.logger.Warn().
					Str("plugin", p.Path()).
					Int("code", code).
					Str("error", errorcodes.StrError(code)).
					Msg("plugin failed to detach")
			}
		}
		p.Unload(ctx)
	}
	c.plugins, c.attached = nil, nil

	if c.inst != nil {
		c.table.Instances().Remove(c.handle)
		if err := c.inst.Close(ctx); err != nil {
			c.logger.Error().Err(err).Msg("failed to close script instance")
		}
		c.inst = nil
	}

	c.setState(StateTornDown)
}
