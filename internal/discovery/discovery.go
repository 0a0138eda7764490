// Package discovery finds candidate printer addresses without sweeping a
// range. Moonraker hosts usually advertise themselves over mDNS, so a
// short browse can seed a scan with addresses that sit outside the ranges
// the operator supplied.
package discovery

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/anstrom/farmscan/internal/config"
	"github.com/anstrom/farmscan/internal/errors"
	"github.com/anstrom/farmscan/internal/logging"
	"github.com/anstrom/farmscan/internal/netrange"
)

const (
	// DefaultService is the service type Moonraker announces.
	DefaultService = "_moonraker._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultTimeout bounds a browse.
	DefaultTimeout = 3 * time.Second
)

// Browser is the part of zeroconf.Resolver the MDNS source uses.
type Browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// Candidate is one announced service instance.
type Candidate struct {
	Instance string            `json:"instance"`
	HostName string            `json:"hostName"`
	Address  string            `json:"address"`
	Port     int               `json:"port"`
	Text     map[string]string `json:"text,omitempty"`
}

// MDNS browses for announced Moonraker instances.
type MDNS struct {
	Service string
	Domain  string
	Timeout time.Duration

	newBrowser func() (Browser, error)
	logger     *logging.Logger
}

// NewMDNS creates a browser from cfg, falling back to the defaults for
// unset fields.
func NewMDNS(cfg config.MDNSConfig) *MDNS {
	m := &MDNS{
		Service: cfg.Service,
		Domain:  cfg.Domain,
		Timeout: cfg.Timeout,
		newBrowser: func() (Browser, error) {
			return zeroconf.NewResolver(nil)
		},
		logger: logging.Default().WithComponent("discovery"),
	}
	if m.Service == "" {
		m.Service = DefaultService
	}
	if m.Domain == "" {
		m.Domain = DefaultDomain
	}
	if m.Timeout <= 0 {
		m.Timeout = DefaultTimeout
	}
	return m
}

// Candidates browses for the configured timeout and returns every instance
// with a usable IPv4 address, ordered by address. Instances announced more
// than once are reported once.
func (m *MDNS) Candidates(ctx context.Context) ([]Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	browser, err := m.newBrowser()
	if err != nil {
		return nil, errors.WrapScanError(errors.CodeDiscoveryFailed, "Failed to create mDNS resolver", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var (
		mu    sync.Mutex
		found = make(map[string]Candidate)
		wg    sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				c, usable := parseEntry(entry)
				if !usable {
					continue
				}
				mu.Lock()
				found[c.Instance+"|"+c.Address] = c
				mu.Unlock()
			}
		}
	}()

	if err := browser.Browse(ctx, m.Service, m.Domain, entries); err != nil {
		cancel()
		wg.Wait()
		m.logger.WithTarget(m.Service).WithError(err).Warn("mDNS browse failed")
		return nil, errors.WrapScanError(errors.CodeDiscoveryFailed,
			fmt.Sprintf("Failed to browse for %s", m.Service), err)
	}

	<-ctx.Done()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()

	out := make([]Candidate, 0, len(found))
	for _, c := range found {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := netip.MustParseAddr(out[i].Address), netip.MustParseAddr(out[j].Address)
		if a != b {
			return a.Less(b)
		}
		return out[i].Instance < out[j].Instance
	})

	m.logger.Info("mDNS browse finished", "service", m.Service, "candidates", len(out))
	return out, nil
}

// parseEntry keeps the first routable IPv4 address of the entry.
func parseEntry(entry *zeroconf.ServiceEntry) (Candidate, bool) {
	if entry == nil {
		return Candidate{}, false
	}

	var addr netip.Addr
	for _, ip := range entry.AddrIPv4 {
		a, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		a = a.Unmap()
		if !a.Is4() || a.IsLinkLocalUnicast() || netrange.IsSpecial(a) {
			continue
		}
		addr = a
		break
	}
	if !addr.IsValid() {
		return Candidate{}, false
	}

	text := make(map[string]string, len(entry.Text))
	for _, txt := range entry.Text {
		k, v, _ := strings.Cut(txt, "=")
		text[k] = v
	}

	return Candidate{
		Instance: entry.Instance,
		HostName: entry.HostName,
		Address:  addr.String(),
		Port:     entry.Port,
		Text:     text,
	}, true
}

// Specs turns candidates into single-address range specs, one per distinct
// address.
func Specs(candidates []Candidate) []netrange.Spec {
	seen := make(map[string]struct{}, len(candidates))
	specs := make([]netrange.Spec, 0, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c.Address]; dup {
			continue
		}
		seen[c.Address] = struct{}{}
		specs = append(specs, netrange.Spec{Begin: c.Address, End: c.Address})
	}
	return specs
}
