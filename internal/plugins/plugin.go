package plugins

import (
	"context"
	"strings"

	"github.com/andrei-cloud/plugin_runner/internal/errorcodes"
	"github.com/rs/zerolog/log"
	"github.com/tetratelabs/wazero/api"
)

// Plugin ABI export names.
const (
	exportSupports = "Supports"
	exportLoad     = "Load"
	exportUnload   = "Unload"
	exportAttach   = "AttachToInstance"
	exportDetach   = "DetachFromInstance"
	exportTick     = "Tick"
)

// Plugin is one plugin module and the entry points its capabilities require.
type Plugin struct {
	handle *Handle
	flags  Flags
	attach Symbol
	detach Symbol
	tick   Symbol
	loaded bool
	path   string
}

// New returns an unloaded plugin that opens its module through opener.
func New(opener Opener) *Plugin {
	return &Plugin{handle: NewHandle(opener)}
}

// Load opens the module at path, negotiates capabilities and calls the
// module's Load with the export table size. On any error the module may stay
// resident; callers must Unload. Loading a plugin that is still resident
// fails with ErrFailed.
func (p *Plugin) Load(ctx context.Context, path string, table *ExportTable) error {
	if p.loaded || p.handle.IsOpen() {
		return loadError(ErrFailed, p.Path(), "module is already resident")
	}

	if !strings.HasSuffix(path, Suffix) {
		path += Suffix
	}

	if !p.handle.Open(ctx, path) {
		return loadError(ErrFailed, path, "%s", p.handle.FailMessage())
	}

	supports := p.handle.Resolve(exportSupports)
	if supports == nil {
		return loadError(ErrAPI, path, "missing %s", exportSupports)
	}
	ret, err := supports.Call(ctx)
	if err != nil {
		return loadError(ErrFailed, path, "%s: %v", exportSupports, err)
	}
	p.flags = Flags(firstU32(ret))

	if p.flags.Version() > SupportsVersion {
		return loadError(ErrVersion, path, "plugin version %#x, host supports %#x", p.flags.Version(), SupportsVersion)
	}

	if p.flags.HasNatives() {
		p.attach = p.handle.Resolve(exportAttach)
		p.detach = p.handle.Resolve(exportDetach)
		if p.attach == nil || p.detach == nil {
			return loadError(ErrAPI, path, "natives capability requires %s and %s", exportAttach, exportDetach)
		}
	}

	if p.flags.HasTick() {
		p.tick = p.handle.Resolve(exportTick)
		if p.tick == nil {
			return loadError(ErrAPI, path, "tick capability requires %s", exportTick)
		}
	}

	load := p.handle.Resolve(exportLoad)
	if load == nil {
		return loadError(ErrAPI, path, "missing %s", exportLoad)
	}
	ret, err = load.Call(ctx, uint64(table.Len()))
	if err != nil {
		return loadError(ErrFailed, path, "%s: %v", exportLoad, err)
	}
	if firstU32(ret) == 0 {
		return loadError(ErrFailed, path, "%s returned false", exportLoad)
	}

	p.loaded = true
	p.path = path

	return nil
}

// AttachToInstance lets the plugin register natives into the script instance
// identified by handle. Plugins without natives succeed without being called.
func (p *Plugin) AttachToInstance(ctx context.Context, handle uint32) int {
	if !p.flags.HasNatives() || p.attach == nil {
		return errorcodes.ErrNone.Code
	}

	return p.callStatus(ctx, p.attach, exportAttach, handle)
}

// DetachFromInstance undoes AttachToInstance.
func (p *Plugin) DetachFromInstance(ctx context.Context, handle uint32) int {
	if !p.flags.HasNatives() || p.detach == nil {
		return errorcodes.ErrNone.Code
	}

	return p.callStatus(ctx, p.detach, exportDetach, handle)
}

// Tick delivers one periodic tick.
func (p *Plugin) Tick(ctx context.Context) {
	if !p.flags.HasTick() || p.tick == nil {
		return
	}

	if _, err := p.tick.Call(ctx); err != nil {
		log.Error().Err(err).Str("plugin", p.handle.Path()).Msg("plugin tick failed")
	}
}

// Unload calls the module's Unload if it was loaded and closes the module.
// Calling it again does nothing.
func (p *Plugin) Unload(ctx context.Context) {
	if p.loaded {
		if unload := p.handle.Resolve(exportUnload); unload != nil {
			if _, err := unload.Call(ctx); err != nil {
				log.Error().Err(err).Str("plugin", p.path).Msg("plugin unload failed")
			}
		}
		p.loaded = false
	}

	if err := p.handle.Close(ctx); err != nil {
		log.Error().Err(err).Str("plugin", p.handle.Path()).Msg("failed to close plugin module")
	}
	p.attach, p.detach, p.tick = nil, nil, nil
}

// IsLoaded reports whether Load succeeded and Unload has not run.
func (p *Plugin) IsLoaded() bool {
	return p.loaded
}

// IsResident reports whether the module is still open.
func (p *Plugin) IsResident() bool {
	return p.handle.IsOpen()
}

// Flags returns the capabilities reported at load.
func (p *Plugin) Flags() Flags {
	return p.flags
}

// Path returns the path the plugin was loaded from.
func (p *Plugin) Path() string {
	if p.path != "" {
		return p.path
	}

	return p.handle.Path()
}

func (p *Plugin) callStatus(ctx context.Context, sym Symbol, name string, handle uint32) int {
	ret, err := sym.Call(ctx, api.EncodeU32(handle))
	if err != nil {
		log.Error().Err(err).Str("plugin", p.path).Str("entry", name).Msg("plugin call failed")
		return errorcodes.ErrNative.Code
	}

	return int(int32(firstU32(ret)))
}

func firstU32(ret []uint64) uint32 {
	if len(ret) == 0 {
		return 0
	}

	return api.DecodeU32(ret[0])
}
