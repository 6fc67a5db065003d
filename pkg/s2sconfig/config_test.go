package s2sconfig

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	filename := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(filename, []byte(content), 0o600))
	return filename
}

const scenarioConfig = `
default_domain: b.example
runtime_dir: /run/xmpp-s2s
domains:
  a.example:
    auth:
      dialback: true
      secret: s1
  b.example:
    block: true
`

func TestScenario(t *testing.T) {
	filename := writeConfig(t, t.TempDir(), "s2s.yaml", scenarioConfig)
	cfg, err := New(filename)
	require.NoError(t, err)

	assert.Equal(t, "b.example", cfg.DefaultDomain())
	assert.Equal(t, "/run/xmpp-s2s", cfg.RuntimeDir())
	assert.Equal(t, []string{"a.example", "b.example"}, cfg.DomainNames())

	a, err := cfg.Domain("a.example")
	require.NoError(t, err)
	assert.Equal(t, "a.example", a.Domain())
	assert.True(t, a.AuthDialback())
	assert.False(t, a.AuthPKIX())
	assert.False(t, a.Block())
	secret, ok := a.AuthSecret()
	require.True(t, ok)
	assert.Equal(t, "s1", secret)

	for i := 0; i < 10; i++ {
		c, err := cfg.Domain("c.example")
		require.NoError(t, err)
		assert.Equal(t, "b.example", c.Domain())
		assert.True(t, c.Block())
		assert.Equal(t, Untrusted, c.Decide("c.example", nil, nil))
	}

	_, ok = cfg.Lookup("c.example")
	assert.False(t, ok)
	b, ok := cfg.Lookup("b.example")
	require.True(t, ok)
	assert.True(t, b.Block())
}

func TestNoDefaultDomain(t *testing.T) {
	filename := writeConfig(t, t.TempDir(), "s2s.yaml", `
domains:
  a.example:
    auth:
      pkix: true
`)
	cfg, err := New(filename)
	require.NoError(t, err)
	_, err = cfg.Domain("c.example")
	assert.Equal(t, ErrDomainNotConfigured, err)
	a, err := cfg.Domain("a.example")
	require.NoError(t, err)
	assert.True(t, a.AuthPKIX())
}

func TestMalformedConfig(t *testing.T) {
	dir := t.TempDir()
	testCases := map[string]string{
		"syntax":          "domains: [",
		"unknown field":   "domains:\n  a.example:\n    colour: blue\n",
		"bad transport":   "domains:\n  a.example:\n    transport: smoke\n",
		"not a domain":    "domains:\n  user@a.example: {}\n",
		"missing default": "default_domain: z.example\ndomains:\n  a.example: {}\n",
		"half tls":        "domains:\n  a.example:\n    tls:\n      chain: a.pem\n",
		"empty tls":       "domains:\n  a.example:\n    tls: {}\n",
	}
	for name, content := range testCases {
		filename := writeConfig(t, dir, strings.ReplaceAll(name, " ", "-")+".yaml", content)
		cfg, err := New(filename)
		assert.Nil(t, cfg, name)
		var cfgErr *ConfigError
		assert.True(t, errors.As(err, &cfgErr), name)
	}

	_, err := New(filepath.Join(dir, "absent.yaml"))
	var cfgErr *ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestEmptyConfig(t *testing.T) {
	cfg, err := New(writeConfig(t, t.TempDir(), "s2s.yaml", ""))
	require.NoError(t, err)
	assert.Empty(t, cfg.DomainNames())
	_, err = cfg.Domain("a.example")
	assert.Equal(t, ErrDomainNotConfigured, err)
}

func tlsConfigYAML(name string, crt issued, caFile string) string {
	return fmt.Sprintf(`
  %s:
    auth:
      pkix: true
    tls:
      chain: %s
      key: %s
      ca_file: %s
`, name, crt.chainFile, crt.keyFile, caFile)
}

func TestTLSMaterial(t *testing.T) {
	pki := newTestPKI(t, "Test CA")
	a := pki.issue(t, "a.example")
	b := pki.issue(t, "b.example")
	dir := t.TempDir()

	broken := issued{chainFile: a.chainFile, keyFile: b.keyFile}
	filename := writeConfig(t, dir, "s2s.yaml", "domains:"+
		tlsConfigYAML("a.example", a, pki.caFile)+
		tlsConfigYAML("b.example", broken, pki.caFile))
	cfg, err := New(filename)
	require.NoError(t, err)
	d, ok := cfg.Lookup("a.example")
	require.True(t, ok)
	assert.True(t, d.HasCertificate())
	assert.True(t, d.PKIXTrusted("a.example", peerState(pki.issue(t, "a.example").leaf)))
	_, ok = cfg.Lookup("b.example")
	assert.False(t, ok)

	// Roots without a certificate, for a domain served elsewhere.
	filename = writeConfig(t, dir, "s2s-roots.yaml", fmt.Sprintf(`
domains:
  c.example:
    auth:
      pkix: true
    tls:
      ca_file: %s
`, pki.caFile))
	cfg, err = New(filename)
	require.NoError(t, err)
	c, ok := cfg.Lookup("c.example")
	require.True(t, ok)
	assert.False(t, c.HasCertificate())
	assert.Nil(t, c.TLSConfig("a.example", d))
	assert.True(t, c.PKIXTrusted("c.example", peerState(pki.issue(t, "c.example").leaf)))
	assert.Contains(t, cfg.AsString(), "ca_file: "+pki.caFile)
	assert.NotContains(t, cfg.AsString(), "chain:")

	// The default domain cannot be left out.
	filename = writeConfig(t, dir, "s2s-default.yaml", "default_domain: b.example\ndomains:"+
		tlsConfigYAML("a.example", a, pki.caFile)+
		tlsConfigYAML("b.example", broken, pki.caFile))
	cfg, err = New(filename)
	assert.Nil(t, cfg)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "b.example", cfgErr.Domain)
}

func TestLoadReplaces(t *testing.T) {
	dir := t.TempDir()
	cfg, err := New(writeConfig(t, dir, "s2s.yaml", scenarioConfig))
	require.NoError(t, err)
	before, err := cfg.Domain("a.example")
	require.NoError(t, err)

	require.NoError(t, cfg.Load(writeConfig(t, dir, "more.yaml", `
domains:
  a.example:
    auth:
      pkix: true
  d.example:
    forward: true
`)))

	after, err := cfg.Domain("a.example")
	require.NoError(t, err)
	assert.True(t, after.AuthPKIX())
	assert.False(t, after.AuthDialback())
	// Policies handed out earlier are untouched.
	assert.True(t, before.AuthDialback())
	assert.False(t, before.AuthPKIX())

	d, ok := cfg.Lookup("d.example")
	require.True(t, ok)
	assert.True(t, d.Forward())
	b, ok := cfg.Lookup("b.example")
	require.True(t, ok)
	assert.True(t, b.Block())
	assert.Equal(t, "b.example", cfg.DefaultDomain())
	assert.Equal(t, "/run/xmpp-s2s", cfg.RuntimeDir())
}

func TestLoadFailures(t *testing.T) {
	pki := newTestPKI(t, "Test CA")
	a := pki.issue(t, "a.example")
	b := pki.issue(t, "b.example")
	dir := t.TempDir()
	cfg, err := New(writeConfig(t, dir, "s2s.yaml", scenarioConfig))
	require.NoError(t, err)
	snapshot := cfg.AsString()

	// A malformed file changes nothing.
	err = cfg.Load(writeConfig(t, dir, "bad.yaml", "domains: ["))
	require.Error(t, err)
	assert.Equal(t, snapshot, cfg.AsString())

	// Domains failing to load keep their previous definition and the
	// failures are reported together.
	broken := issued{chainFile: a.chainFile, keyFile: b.keyFile}
	err = cfg.Load(writeConfig(t, dir, "partial.yaml", "domains:"+
		tlsConfigYAML("a.example", broken, pki.caFile)+
		tlsConfigYAML("e.example", broken, pki.caFile)+
		"  f.example:\n    forward: true\n"))
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	prev, err := cfg.Domain("a.example")
	require.NoError(t, err)
	assert.True(t, prev.AuthDialback())
	_, ok := cfg.Lookup("e.example")
	assert.False(t, ok)
	_, ok = cfg.Lookup("f.example")
	assert.True(t, ok)

	// Switching to an unknown default domain is refused as a whole.
	err = cfg.Load(writeConfig(t, dir, "default.yaml", "default_domain: z.example\ndomains:\n  g.example: {}\n"))
	require.Error(t, err)
	assert.Equal(t, "b.example", cfg.DefaultDomain())
	_, ok = cfg.Lookup("g.example")
	assert.False(t, ok)
}

func TestLoadAtomic(t *testing.T) {
	dir := t.TempDir()
	cfg, err := New(writeConfig(t, dir, "s2s.yaml", `
domains:
  a.example:
    forward: true
    block: true
`))
	require.NoError(t, err)
	flipped := writeConfig(t, dir, "flipped.yaml", `
domains:
  a.example:
    forward: false
    block: false
`)
	original := writeConfig(t, dir, "original.yaml", `
domains:
  a.example:
    forward: true
    block: true
`)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				d, err := cfg.Domain("a.example")
				if !assert.NoError(t, err) {
					return
				}
				// Both flags always change together.
				if !assert.Equal(t, d.Forward(), d.Block()) {
					return
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		file := flipped
		if i%2 == 1 {
			file = original
		}
		require.NoError(t, cfg.Load(file))
	}
	cancel()
	wg.Wait()
}

func TestAsString(t *testing.T) {
	filename := writeConfig(t, t.TempDir(), "s2s.yaml", scenarioConfig)
	cfg, err := New(filename)
	require.NoError(t, err)

	out := cfg.AsString()
	assert.NotContains(t, out, "s1")
	assert.Contains(t, out, redacted)

	var fc fileConfig
	require.NoError(t, yaml.Unmarshal([]byte(out), &fc))
	assert.Equal(t, "b.example", fc.DefaultDomain)
	assert.Equal(t, "/run/xmpp-s2s", fc.RuntimeDir)
	require.Contains(t, fc.Domains, "a.example")
	assert.True(t, fc.Domains["a.example"].Auth.Dialback)
	assert.Equal(t, TransportS2S, fc.Domains["a.example"].Transport)
	assert.True(t, fc.Domains["b.example"].Block)

	// Rendering is stable and can be read back.
	assert.Equal(t, out, cfg.AsString())
	again, err := New(writeConfig(t, t.TempDir(), "again.yaml", out))
	require.NoError(t, err)
	assert.Equal(t, out, again.AsString())
}

func TestZeroConfig(t *testing.T) {
	var cfg Config
	_, err := cfg.Domain("a.example")
	assert.Equal(t, ErrDomainNotConfigured, err)
	_, ok := cfg.Lookup("a.example")
	assert.False(t, ok)
	assert.Empty(t, cfg.DefaultDomain())
	assert.Empty(t, cfg.RuntimeDir())
	assert.Empty(t, cfg.DomainNames())
	assert.NotPanics(t, func() { _ = cfg.AsString() })

	require.NoError(t, cfg.Load(writeConfig(t, t.TempDir(), "s2s.yaml", scenarioConfig)))
	assert.Equal(t, "b.example", cfg.DefaultDomain())
}

func TestGlobal(t *testing.T) {
	_, err := Init(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)

	cfg, err := Init(writeConfig(t, t.TempDir(), "s2s.yaml", scenarioConfig))
	require.NoError(t, err)
	assert.Same(t, cfg, Global())
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	filename := writeConfig(t, dir, "s2s.yaml", scenarioConfig)
	cfg, err := New(filename)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cfg.Watch(ctx, filename) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, "s2s.yaml", scenarioConfig+"  h.example:\n    forward: true\n")

	assert.Eventually(t, func() bool {
		_, ok := cfg.Lookup("h.example")
		return ok
	}, 5*time.Second, 50*time.Millisecond)
}
