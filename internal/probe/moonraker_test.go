package probe

import (
	"context"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const systemInfoBody = `{
  "result": {
    "system_info": {
      "product_info": {
        "machine_type": "Snapmaker U1",
        "serial_number": "SN-0042",
        "device_name": "bench-left",
        "firmware_version": "1.2.3"
      },
      "network": {
        "wlan0": {"mac_address": "aa:bb:cc:00:00:02", "ip_addresses": [
          {"family": "ipv6", "address": "fe80::1", "is_link_local": true},
          {"family": "ipv4", "address": "192.168.1.51", "is_link_local": false}
        ]},
        "eth0": {"mac_address": "aa:bb:cc:00:00:01", "ip_addresses": [
          {"family": "ipv4", "address": "169.254.3.3", "is_link_local": true},
          {"family": "ipv4", "address": "192.168.1.50", "is_link_local": false}
        ]},
        "lo": {"mac_address": "00:00:00:00:00:00", "ip_addresses": [
          {"family": "ipv4", "address": "127.0.0.1", "is_link_local": false}
        ]},
        "can0": {"mac_address": "", "ip_addresses": []}
      }
    }
  }
}`

type fakeMoonraker struct {
	serverInfo   string
	serverStatus int
	systemInfo   string
	systemStatus int
	delay        time.Duration
}

func (f fakeMoonraker) start(t *testing.T) (string, int) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/server/info", func(w http.ResponseWriter, r *http.Request) {
		if f.delay > 0 {
			select {
			case <-time.After(f.delay):
			case <-r.Context().Done():
				return
			}
		}
		if f.serverStatus != 0 {
			w.WriteHeader(f.serverStatus)
		}
		_, _ = io.WriteString(w, f.serverInfo)
	})
	mux.HandleFunc("/machine/system_info", func(w http.ResponseWriter, r *http.Request) {
		if f.systemStatus != 0 {
			w.WriteHeader(f.systemStatus)
		}
		_, _ = io.WriteString(w, f.systemInfo)
	})

	srv := httptest.NewUnstartedServer(mux)
	srv.Config.ErrorLog = log.New(io.Discard, "", 0)
	srv.Start()
	t.Cleanup(srv.Close)

	ap := netip.MustParseAddrPort(srv.Listener.Addr().String())
	return ap.Addr().String(), int(ap.Port())
}

func TestMoonrakerProber(t *testing.T) {
	okInfo := `{"result": {"moonraker_version": "v0.9.3-1", "klippy_connected": true}}`

	tests := []struct {
		name         string
		fake         fakeMoonraker
		vendorPrefix string
		wantOK       bool
		check        func(t *testing.T, d *Device)
	}{
		{
			name:         "snapmaker recognized",
			fake:         fakeMoonraker{serverInfo: okInfo, systemInfo: systemInfoBody},
			vendorPrefix: "Snapmaker",
			wantOK:       true,
			check: func(t *testing.T, d *Device) {
				assert.Equal(t, "Snapmaker U1", d.Model)
				assert.Equal(t, "bench-left", d.Name)
				assert.Equal(t, "SN-0042", d.SerialNumber)
				assert.Equal(t, "1.2.3", d.Version)
				assert.Equal(t, []Interface{
					{Name: "eth0", IP: "192.168.1.50", MAC: "aa:bb:cc:00:00:01", Type: InterfaceWired},
					{Name: "wlan0", IP: "192.168.1.51", MAC: "aa:bb:cc:00:00:02", Type: InterfaceWireless},
				}, d.Network)
			},
		},
		{
			name:         "other vendor rejected",
			fake:         fakeMoonraker{serverInfo: okInfo, systemInfo: systemInfoBody},
			vendorPrefix: "Prusa",
			wantOK:       false,
		},
		{
			name:   "plain moonraker without system info",
			fake:   fakeMoonraker{serverInfo: okInfo, systemStatus: http.StatusNotFound},
			wantOK: true,
			check: func(t *testing.T, d *Device) {
				assert.Equal(t, "v0.9.3-1", d.Version)
				assert.Empty(t, d.Model)
			},
		},
		{
			name:         "vendor required but system info missing",
			fake:         fakeMoonraker{serverInfo: okInfo, systemStatus: http.StatusInternalServerError},
			vendorPrefix: "Snapmaker",
			wantOK:       false,
		},
		{
			name:   "empty version",
			fake:   fakeMoonraker{serverInfo: `{"result": {"moonraker_version": ""}}`},
			wantOK: false,
		},
		{
			name:   "non 2xx",
			fake:   fakeMoonraker{serverInfo: okInfo, serverStatus: http.StatusServiceUnavailable},
			wantOK: false,
		},
		{
			name:   "malformed payload",
			fake:   fakeMoonraker{serverInfo: `<html>router login</html>`},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port := tt.fake.start(t)
			p := NewMoonrakerProber(port, tt.vendorPrefix)

			d, ok := p.Probe(context.Background(), host, time.Second)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				assert.Nil(t, d)
				return
			}
			require.NotNil(t, d)
			assert.Equal(t, host, d.Address)
			if tt.check != nil {
				tt.check(t, d)
			}
		})
	}
}

func TestMoonrakerProberClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	d, ok := NewMoonrakerProber(port, "").Probe(context.Background(), "127.0.0.1", time.Second)
	assert.False(t, ok)
	assert.Nil(t, d)
}

func TestMoonrakerProberHonorsTimeout(t *testing.T) {
	host, port := fakeMoonraker{
		serverInfo: `{"result": {"moonraker_version": "v1"}}`,
		delay:      2 * time.Second,
	}.start(t)

	start := time.Now()
	_, ok := NewMoonrakerProber(port, "").Probe(context.Background(), host, 100*time.Millisecond)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestMoonrakerProberInvalidAddress(t *testing.T) {
	_, ok := NewMoonrakerProber(0, "").Probe(context.Background(), "not-an-ip..", 50*time.Millisecond)
	assert.False(t, ok)
}

func TestClassifyInterface(t *testing.T) {
	tests := map[string]InterfaceType{
		"eth0":    InterfaceWired,
		"enp3s0":  InterfaceWired,
		"end0":    InterfaceWired,
		"wlan0":   InterfaceWireless,
		"wlp2s0":  InterfaceWireless,
		"lo":      InterfaceUnknown,
		"can0":    InterfaceUnknown,
		"docker0": InterfaceUnknown,
	}
	for name, want := range tests {
		assert.Equal(t, want, ClassifyInterface(name), name)
	}
}

func TestProberFunc(t *testing.T) {
	var p Prober = ProberFunc(func(_ context.Context, addr string, _ time.Duration) (*Device, bool) {
		return &Device{Address: addr}, true
	})
	d, ok := p.Probe(context.Background(), "10.0.0.1", time.Second)
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.1", d.Address)
}
