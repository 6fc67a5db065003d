// Package s2sconfig holds the federation policy of the server: one Domain
// per remote domain, kept in a registry loaded from a YAML file.
//
// The registry is read by many sessions at once. Every load builds a new
// immutable snapshot and publishes it with a single atomic store, so a
// reader sees either the old or the new configuration, never a mix.
package s2sconfig

import (
	"bytes"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/exavolt/xmpp-s2s/pkg/xmppcore"
)

var log = logrus.WithFields(logrus.Fields{"pkg": "s2sconfig"})

// ErrDomainNotConfigured is returned by Domain when the name is unknown and
// there is no default domain to fall back to.
var ErrDomainNotConfigured = errors.New("domain not configured")

// ConfigError reports a problem with the configuration file or with the
// TLS material of one domain.
type ConfigError struct {
	// Domain is empty for errors about the file as a whole.
	Domain string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Domain == "" {
		return "config: " + e.Err.Error()
	}
	return "config: domain " + e.Domain + ": " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error { return e.Err }
func (e *ConfigError) Cause() error  { return e.Err }

type snapshot struct {
	defaultDomain string
	runtimeDir    string
	domains       map[string]*Domain
}

// Config is the domain registry. Use New to build one. The zero value is
// an empty registry that Load can fill.
type Config struct {
	current atomic.Pointer[snapshot]
	// serializes loads; readers never take it
	loadMu sync.Mutex
}

// New reads filename and builds the registry. Nothing is returned when the
// file is malformed or when the default domain cannot be built. Other
// domains with bad TLS material are left out and logged.
func New(filename string) (*Config, error) {
	fc, err := readFile(filename)
	if err == nil && fc.DefaultDomain != "" {
		if _, ok := fc.Domains[fc.DefaultDomain]; !ok {
			err = &ConfigError{
				Domain: fc.DefaultDomain,
				Err:    errors.New("default domain has no definition"),
			}
		}
	}
	if err != nil {
		configLoads.WithLabelValues(loadResultFailed).Inc()
		return nil, err
	}
	snap := &snapshot{
		defaultDomain: fc.DefaultDomain,
		runtimeDir:    fc.RuntimeDir,
		domains:       make(map[string]*Domain, len(fc.Domains)),
	}
	for name, fd := range fc.Domains {
		d, err := buildDomain(name, fd)
		if err != nil {
			if name == fc.DefaultDomain {
				configLoads.WithLabelValues(loadResultFailed).Inc()
				return nil, err
			}
			log.WithFields(logrus.Fields{"domain": name}).WithError(err).
				Error("Skipping domain")
			continue
		}
		snap.domains[name] = d
	}

	c := &Config{}
	c.publish(snap)
	configLoads.WithLabelValues(loadResultOK).Inc()
	log.WithFields(logrus.Fields{"file": filename, "domains": len(snap.domains)}).
		Info("Configuration loaded")
	return c, nil
}

// Load merges the domains of filename into the registry. Domains named in
// the file replace the current ones with the same name and the others are
// kept. When a domain fails to build its previous definition, if any,
// stays in place; all such failures are returned together. A malformed
// file leaves the registry untouched.
func (c *Config) Load(filename string) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	fc, err := readFile(filename)
	if err != nil {
		configLoads.WithLabelValues(loadResultFailed).Inc()
		return err
	}
	prev := c.snap()
	next := &snapshot{
		defaultDomain: prev.defaultDomain,
		runtimeDir:    prev.runtimeDir,
		domains:       make(map[string]*Domain, len(prev.domains)+len(fc.Domains)),
	}
	if fc.DefaultDomain != "" {
		next.defaultDomain = fc.DefaultDomain
	}
	if fc.RuntimeDir != "" {
		next.runtimeDir = fc.RuntimeDir
	}
	for name, d := range prev.domains {
		next.domains[name] = d
	}

	var loadErr error
	for name, fd := range fc.Domains {
		d, err := buildDomain(name, fd)
		if err != nil {
			log.WithFields(logrus.Fields{"domain": name}).WithError(err).
				Error("Keeping previous definition of domain")
			loadErr = multierr.Append(loadErr, err)
			continue
		}
		next.domains[name] = d
	}
	if next.defaultDomain != "" {
		if _, ok := next.domains[next.defaultDomain]; !ok {
			configLoads.WithLabelValues(loadResultFailed).Inc()
			return multierr.Append(loadErr, &ConfigError{
				Domain: next.defaultDomain,
				Err:    errors.New("default domain is not available"),
			})
		}
	}

	c.publish(next)
	result := loadResultOK
	if loadErr != nil {
		result = loadResultPartial
	}
	configLoads.WithLabelValues(result).Inc()
	log.WithFields(logrus.Fields{"file": filename, "domains": len(next.domains)}).
		Info("Configuration reloaded")
	return loadErr
}

var emptySnapshot = &snapshot{}

func (c *Config) snap() *snapshot {
	if snap := c.current.Load(); snap != nil {
		return snap
	}
	return emptySnapshot
}

func (c *Config) publish(snap *snapshot) {
	c.current.Store(snap)
	configuredDomains.Set(float64(len(snap.domains)))
}

// Domain returns the policy for name. Names without a policy of their own
// get the default domain's.
func (c *Config) Domain(name string) (*Domain, error) {
	snap := c.snap()
	if d, ok := snap.domains[name]; ok {
		return d, nil
	}
	if snap.defaultDomain != "" {
		if d, ok := snap.domains[snap.defaultDomain]; ok {
			return d, nil
		}
	}
	return nil, ErrDomainNotConfigured
}

// Lookup returns the policy configured for exactly name.
func (c *Config) Lookup(name string) (*Domain, bool) {
	d, ok := c.snap().domains[name]
	return d, ok
}

func (c *Config) DefaultDomain() string { return c.snap().defaultDomain }
func (c *Config) RuntimeDir() string    { return c.snap().runtimeDir }

// DomainNames returns the configured domain names, sorted.
func (c *Config) DomainNames() []string {
	snap := c.snap()
	names := make([]string, 0, len(snap.domains))
	for name := range snap.domains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AsString renders the effective configuration in the file format.
// Secrets are redacted.
func (c *Config) AsString() string {
	snap := c.snap()
	fc := fileConfig{
		DefaultDomain: snap.defaultDomain,
		RuntimeDir:    snap.runtimeDir,
		Domains:       make(map[string]fileDomain, len(snap.domains)),
	}
	for name, d := range snap.domains {
		fc.Domains[name] = d.fileDomain()
	}
	buf, err := yaml.Marshal(&fc)
	if err != nil {
		// only plain strings and bools in there
		panic(err)
	}
	return string(buf)
}

var global atomic.Pointer[Config]

// Init builds the process-wide registry from filename.
func Init(filename string) (*Config, error) {
	c, err := New(filename)
	if err != nil {
		return nil, err
	}
	global.Store(c)
	return c, nil
}

// Global returns the registry set up by Init, or nil before that.
func Global() *Config { return global.Load() }

const redacted = "<redacted>"

type fileConfig struct {
	DefaultDomain string                `yaml:"default_domain,omitempty"`
	RuntimeDir    string                `yaml:"runtime_dir,omitempty"`
	Domains       map[string]fileDomain `yaml:"domains"`
}

type fileDomain struct {
	Transport  TransportType `yaml:"transport"`
	Forward    bool          `yaml:"forward"`
	RequireTLS bool          `yaml:"require_tls"`
	Block      bool          `yaml:"block"`
	Auth       fileAuth      `yaml:"auth"`
	TLS        *fileTLS      `yaml:"tls,omitempty"`
}

type fileAuth struct {
	PKIX     bool    `yaml:"pkix"`
	Dialback bool    `yaml:"dialback"`
	Secret   *string `yaml:"secret,omitempty"`
}

type fileTLS struct {
	Chain  string `yaml:"chain,omitempty"`
	Key    string `yaml:"key,omitempty"`
	CAFile string `yaml:"ca_file,omitempty"`
}

func readFile(filename string) (*fileConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, &ConfigError{Err: errors.Wrap(err, "unable to read config file")}
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var fc fileConfig
	if err := decoder.Decode(&fc); err != nil && err != io.EOF {
		return nil, &ConfigError{Err: errors.Wrapf(err, "unable to parse %s", filename)}
	}
	if err := fc.validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

func (fc *fileConfig) validate() error {
	for name, fd := range fc.Domains {
		parsed, err := xmppcore.ParseJID(name)
		if err != nil || parsed.Local != "" || parsed.Resource != "" || parsed.Domain != name {
			return &ConfigError{Domain: name, Err: errors.New("not a domain name")}
		}
		if fd.TLS == nil {
			continue
		}
		if (fd.TLS.Chain == "") != (fd.TLS.Key == "") {
			return &ConfigError{Domain: name, Err: errors.New("tls needs both chain and key")}
		}
		if fd.TLS.Chain == "" && fd.TLS.CAFile == "" {
			return &ConfigError{Domain: name, Err: errors.New("tls needs a certificate or a ca_file")}
		}
	}
	return nil
}

func buildDomain(name string, fd fileDomain) (*Domain, error) {
	d := NewDomain(name, fd.Transport, Policy{
		Forward:      fd.Forward,
		RequireTLS:   fd.RequireTLS,
		Block:        fd.Block,
		AuthPKIX:     fd.Auth.PKIX,
		AuthDialback: fd.Auth.Dialback,
		AuthSecret:   fd.Auth.Secret,
	})
	if fd.TLS == nil {
		return d, nil
	}
	if fd.TLS.CAFile != "" {
		if err := d.LoadRoots(fd.TLS.CAFile); err != nil {
			return nil, err
		}
	}
	if fd.TLS.Chain != "" {
		if err := d.X509(fd.TLS.Chain, fd.TLS.Key); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Domain) fileDomain() fileDomain {
	fd := fileDomain{
		Transport:  d.transport,
		Forward:    d.policy.Forward,
		RequireTLS: d.policy.RequireTLS,
		Block:      d.policy.Block,
		Auth: fileAuth{
			PKIX:     d.policy.AuthPKIX,
			Dialback: d.policy.AuthDialback,
		},
	}
	if d.policy.AuthSecret != nil {
		secret := redacted
		fd.Auth.Secret = &secret
	}
	if d.tlsConfig != nil || d.roots != nil {
		fd.TLS = &fileTLS{
			Chain:  d.tlsFiles.chain,
			Key:    d.tlsFiles.key,
			CAFile: d.tlsFiles.caFile,
		}
	}
	return fd
}
