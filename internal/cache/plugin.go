package cache

import (
	"plugin"

	"golang.org/x/xerrors"
)

// Plugin loads a Cache implementation from a shared object resolved by
// stable symbol names: each function is resolved by name rather than
// linked at compile time. Init additionally receives a verbosity flag
// and a free-form config string, and a logging callback is handed down
// so the plugin can emit through the host's log sink instead of its own.
type Plugin struct {
	publish    func(id string, records [][]byte) error
	retrieve   func(id string) ([][]byte, bool, error)
	outputInfo func(showProgress bool) (Info, error)
	trim       func(showProgress bool, sizeMiB int64) error
	shutdown   func() error
}

// PluginInitFunc is the symbol a plugin module must export under the name
// "CacheInit"; it receives the verbosity flag, a free-form config string,
// and the log callback, and returns the four operation functions plus
// shutdown.
type PluginInitFunc func(verbose bool, config string, log LogFunc) (
	publish func(id string, records [][]byte) error,
	retrieve func(id string) ([][]byte, bool, error),
	outputInfo func(showProgress bool) (Info, error),
	trim func(showProgress bool, sizeMiB int64) error,
	shutdown func() error,
	err error,
)

// LoadPlugin opens the shared object at path and resolves the CacheInit
// symbol, then calls it with the given parameters.
func LoadPlugin(path string, verbose bool, config string, log LogFunc) (*Plugin, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("cache: loading plugin %s: %w", path, err)
	}
	sym, err := p.Lookup("CacheInit")
	if err != nil {
		return nil, xerrors.Errorf("cache: plugin %s missing CacheInit symbol: %w", path, err)
	}
	var initFn PluginInitFunc
	switch f := sym.(type) {
	case *PluginInitFunc:
		initFn = *f
	case func(bool, string, LogFunc) (func(string, [][]byte) error, func(string) ([][]byte, bool, error), func(bool) (Info, error), func(bool, int64) error, func() error, error):
		initFn = f
	default:
		return nil, xerrors.Errorf("cache: plugin %s CacheInit has unexpected signature", path)
	}
	if log == nil {
		log = func(string, string) {}
	}
	publish, retrieve, outputInfo, trim, shutdown, err := initFn(verbose, config, log)
	if err != nil {
		return nil, xerrors.Errorf("cache: plugin %s init: %w", path, err)
	}
	return &Plugin{
		publish:    publish,
		retrieve:   retrieve,
		outputInfo: outputInfo,
		trim:       trim,
		shutdown:   shutdown,
	}, nil
}

func (p *Plugin) Publish(id string, records [][]byte) error    { return p.publish(id, records) }
func (p *Plugin) Retrieve(id string) ([][]byte, bool, error)   { return p.retrieve(id) }
func (p *Plugin) OutputInfo(showProgress bool) (Info, error)   { return p.outputInfo(showProgress) }
func (p *Plugin) Trim(showProgress bool, sizeMiB int64) error  { return p.trim(showProgress, sizeMiB) }
func (p *Plugin) Shutdown() error                              { return p.shutdown() }
