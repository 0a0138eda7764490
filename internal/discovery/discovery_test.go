package discovery

import (
	"context"
	stderrors "errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/farmscan/internal/config"
	"github.com/anstrom/farmscan/internal/errors"
	"github.com/anstrom/farmscan/internal/netrange"
)

type fakeBrowser struct {
	entries []*zeroconf.ServiceEntry
	err     error

	gotService string
	gotDomain  string
}

func (f *fakeBrowser) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	f.gotService, f.gotDomain = service, domain
	if f.err != nil {
		return f.err
	}
	go func() {
		for _, e := range f.entries {
			select {
			case entries <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func entry(instance, host string, port int, ips ...string) *zeroconf.ServiceEntry {
	e := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: instance},
		HostName:      host,
		Port:          port,
	}
	for _, ip := range ips {
		e.AddrIPv4 = append(e.AddrIPv4, net.ParseIP(ip))
	}
	return e
}

func newTestMDNS(b Browser) *MDNS {
	m := NewMDNS(config.MDNSConfig{Timeout: 100 * time.Millisecond})
	m.newBrowser = func() (Browser, error) { return b, nil }
	return m
}

func TestNewMDNSDefaults(t *testing.T) {
	m := NewMDNS(config.MDNSConfig{})
	assert.Equal(t, DefaultService, m.Service)
	assert.Equal(t, DefaultDomain, m.Domain)
	assert.Equal(t, DefaultTimeout, m.Timeout)

	m = NewMDNS(config.MDNSConfig{Service: "_http._tcp", Domain: "lan.", Timeout: time.Second})
	assert.Equal(t, "_http._tcp", m.Service)
	assert.Equal(t, "lan.", m.Domain)
	assert.Equal(t, time.Second, m.Timeout)
}

func TestCandidates(t *testing.T) {
	b := &fakeBrowser{entries: []*zeroconf.ServiceEntry{
		entry("printer-b", "u1-b.local.", 7125, "192.168.1.60"),
		entry("printer-a", "u1-a.local.", 7125, "169.254.1.1", "192.168.1.20"),
		entry("printer-a", "u1-a.local.", 7125, "192.168.1.20"),
		entry("loopback", "lo.local.", 7125, "127.0.0.1"),
		entry("no-address", "ghost.local.", 7125),
	}}
	b.entries[0].Text = []string{"model=U1", "flag"}

	got, err := newTestMDNS(b).Candidates(context.Background())
	require.NoError(t, err)

	assert.Equal(t, DefaultService, b.gotService)
	assert.Equal(t, DefaultDomain, b.gotDomain)
	require.Len(t, got, 2)
	assert.Equal(t, "192.168.1.20", got[0].Address)
	assert.Equal(t, "printer-a", got[0].Instance)
	assert.Equal(t, "192.168.1.60", got[1].Address)
	assert.Equal(t, map[string]string{"model": "U1", "flag": ""}, got[1].Text)
	assert.Equal(t, 7125, got[1].Port)
}

func TestCandidatesBrowseError(t *testing.T) {
	b := &fakeBrowser{err: stderrors.New("no multicast interface")}

	_, err := newTestMDNS(b).Candidates(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeDiscoveryFailed))
}

func TestCandidatesResolverError(t *testing.T) {
	m := NewMDNS(config.MDNSConfig{Timeout: 50 * time.Millisecond})
	m.newBrowser = func() (Browser, error) { return nil, stderrors.New("socket") }

	_, err := m.Candidates(context.Background())
	assert.True(t, errors.IsCode(err, errors.CodeDiscoveryFailed))
}

func TestCandidatesRespectsParentContext(t *testing.T) {
	m := NewMDNS(config.MDNSConfig{Timeout: time.Minute})
	m.newBrowser = func() (Browser, error) { return &fakeBrowser{}, nil }

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	got, err := m.Candidates(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSpecs(t *testing.T) {
	specs := Specs([]Candidate{
		{Instance: "a", Address: "10.0.0.5"},
		{Instance: "b", Address: "10.0.0.5"},
		{Instance: "c", Address: "10.0.0.9"},
	})
	assert.Equal(t, []netrange.Spec{
		{Begin: "10.0.0.5", End: "10.0.0.5"},
		{Begin: "10.0.0.9", End: "10.0.0.9"},
	}, specs)
}

func TestParseEntry(t *testing.T) {
	_, ok := parseEntry(nil)
	assert.False(t, ok)

	c, ok := parseEntry(entry("x", "x.local.", 80, "224.0.0.1", "10.1.2.3"))
	require.True(t, ok)
	assert.Equal(t, "10.1.2.3", c.Address)
}
