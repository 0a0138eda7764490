package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/anstrom/farmscan/internal/logging"
)

const (
	// DefaultPort is where Moonraker serves its HTTP API.
	DefaultPort = 7125

	serverInfoPath = "/server/info"
	systemInfoPath = "/machine/system_info"

	// Responses larger than this are not Moonraker.
	maxBodySize = 1 << 20
)

var (
	wiredPattern    = regexp.MustCompile(`^(eth|en)`)
	wirelessPattern = regexp.MustCompile(`^(wlan|wl)`)
)

type serverInfoResponse struct {
	Result struct {
		KlippyConnected  bool   `json:"klippy_connected"`
		KlippyState      string `json:"klippy_state"`
		MoonrakerVersion string `json:"moonraker_version"`
		APIVersionString string `json:"api_version_string"`
	} `json:"result"`
}

type systemInfoResponse struct {
	Result struct {
		SystemInfo struct {
			ProductInfo struct {
				MachineType     string `json:"machine_type"`
				SerialNumber    string `json:"serial_number"`
				DeviceName      string `json:"device_name"`
				FirmwareVersion string `json:"firmware_version"`
				SoftwareVersion string `json:"software_version"`
			} `json:"product_info"`
			Network map[string]networkInfo `json:"network"`
		} `json:"system_info"`
	} `json:"result"`
}

type networkInfo struct {
	MACAddress  string `json:"mac_address"`
	IPAddresses []struct {
		Family      string `json:"family"`
		Address     string `json:"address"`
		IsLinkLocal bool   `json:"is_link_local"`
	} `json:"ip_addresses"`
}

// MoonrakerProber recognizes Moonraker hosts with a TCP connect followed
// by HTTP info queries over the same connection.
type MoonrakerProber struct {
	// Port defaults to DefaultPort when zero.
	Port int
	// VendorPrefix, when set, must prefix product_info.machine_type.
	VendorPrefix string

	dialer net.Dialer
}

// NewMoonrakerProber returns a prober for port, restricted to vendorPrefix
// when it is not empty.
func NewMoonrakerProber(port int, vendorPrefix string) *MoonrakerProber {
	return &MoonrakerProber{Port: port, VendorPrefix: vendorPrefix}
}

// Probe implements Prober.
func (p *MoonrakerProber) Probe(ctx context.Context, addr string, timeout time.Duration) (device *Device, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Probe panicked", "target", addr, "panic", r)
			device, ok = nil, false
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	port := p.Port
	if port == 0 {
		port = DefaultPort
	}
	hostPort := net.JoinHostPort(addr, strconv.Itoa(port))

	conn, err := p.dialer.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return nil, false
	}

	transport := newConnTransport(conn, &p.dialer)
	defer transport.CloseIdleConnections()
	defer transport.closeUnused()
	client := &http.Client{Transport: transport}
	baseURL := "http://" + hostPort

	var info serverInfoResponse
	if err := getJSON(ctx, client, baseURL+serverInfoPath, &info); err != nil {
		logging.Debug("Server info query failed", "target", addr, "error", err)
		return nil, false
	}
	if info.Result.MoonrakerVersion == "" {
		return nil, false
	}

	device = &Device{
		Address: addr,
		Version: info.Result.MoonrakerVersion,
	}

	var sys systemInfoResponse
	if err := getJSON(ctx, client, baseURL+systemInfoPath, &sys); err != nil {
		if p.VendorPrefix != "" {
			return nil, false
		}
		logging.Debug("System info unavailable", "target", addr, "error", err)
		return device, true
	}

	product := sys.Result.SystemInfo.ProductInfo
	if p.VendorPrefix != "" && !strings.HasPrefix(product.MachineType, p.VendorPrefix) {
		return nil, false
	}

	device.Model = product.MachineType
	device.Name = product.DeviceName
	device.SerialNumber = product.SerialNumber
	if product.FirmwareVersion != "" {
		device.Version = product.FirmwareVersion
	}
	device.Network = extractInterfaces(sys.Result.SystemInfo.Network)

	return device, true
}

func getJSON(ctx context.Context, client *http.Client, url string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(dest); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// ClassifyInterface maps an interface name onto wired, wireless or unknown.
func ClassifyInterface(name string) InterfaceType {
	switch {
	case wiredPattern.MatchString(name):
		return InterfaceWired
	case wirelessPattern.MatchString(name):
		return InterfaceWireless
	default:
		return InterfaceUnknown
	}
}

// extractInterfaces keeps wired and wireless interfaces, plus any other
// interface carrying a routable IPv4 address. Output is sorted by name.
func extractInterfaces(network map[string]networkInfo) []Interface {
	names := make([]string, 0, len(network))
	for name := range network {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Interface
	for _, name := range names {
		info := network[name]
		iface := Interface{
			Name: name,
			MAC:  info.MACAddress,
			Type: ClassifyInterface(name),
		}
		for _, a := range info.IPAddresses {
			if a.Family != "ipv4" || a.IsLinkLocal {
				continue
			}
			ip, err := netip.ParseAddr(a.Address)
			if err != nil || ip.IsLoopback() {
				continue
			}
			iface.IP = ip.String()
			break
		}
		if iface.Type == InterfaceUnknown && iface.IP == "" {
			continue
		}
		out = append(out, iface)
	}
	return out
}

// connTransport hands out an already established connection for the first
// request and dials normally afterwards.
type connTransport struct {
	*http.Transport

	mu   sync.Mutex
	conn net.Conn
}

func newConnTransport(conn net.Conn, dialer *net.Dialer) *connTransport {
	t := &connTransport{conn: conn}
	t.Transport = &http.Transport{
		DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
			t.mu.Lock()
			c := t.conn
			t.conn = nil
			t.mu.Unlock()
			if c != nil {
				return c, nil
			}
			return dialer.DialContext(ctx, network, address)
		},
		MaxIdleConnsPerHost: 1,
		DisableCompression:  true,
	}
	return t
}

// closeUnused closes the pre-dialed connection if no request took it.
func (t *connTransport) closeUnused() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}
