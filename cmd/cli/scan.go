package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/netip"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/farmscan/internal/config"
	"github.com/anstrom/farmscan/internal/discovery"
	"github.com/anstrom/farmscan/internal/netrange"
	"github.com/anstrom/farmscan/internal/probe"
	"github.com/anstrom/farmscan/internal/scanning"
	"github.com/anstrom/farmscan/internal/workers"
)

const (
	outputTable = "table"
	outputJSON  = "json"

	scanPollInterval = 250 * time.Millisecond
)

// Scan command flags.
var (
	scanCIDRs  []string
	scanRanges []string
	scanMDNS   bool
	scanOutput string
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan address ranges for printers",
	Long: `Probe one or more address ranges once and print every printer found.

Ranges are given as CIDR blocks (--cidr) or inclusive begin-end pairs
(--range). With --mdns the addresses announced over multicast DNS are
scanned as well. Results are printed when every address was probed.`,
	Example: `  farmscan scan --cidr 192.168.1.0/24
  farmscan scan --range 10.0.0.20-10.0.0.80 --vendor Snapmaker
  farmscan scan --cidr 192.168.1.0/24 --cidr 192.168.2.0/24 --output json
  farmscan scan --mdns`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd.Flags(), map[string]string{
			"scanning.concurrency":   "concurrency",
			"scanning.timeout":       "timeout",
			"scanning.vendor_prefix": "vendor",
			"scanning.probe_port":    "probe-port",
			"scanning.max_addresses": "max-addresses",
		})
	},
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringSliceVar(&scanCIDRs, "cidr", nil, "CIDR block to scan (repeatable)")
	scanCmd.Flags().StringSliceVar(&scanRanges, "range", nil, "Inclusive address range begin-end (repeatable)")
	scanCmd.Flags().BoolVar(&scanMDNS, "mdns", false, "Also scan addresses announced over mDNS")
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", outputTable, "Output format: table or json")
	addEngineFlags(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanOutput != outputTable && scanOutput != outputJSON {
		return fmt.Errorf("invalid output format %q: use %s or %s", scanOutput, outputTable, outputJSON)
	}

	specs, err := buildSpecs(scanCIDRs, scanRanges)
	if err != nil {
		return err
	}
	if len(specs) == 0 && !scanMDNS {
		return fmt.Errorf("nothing to scan: use --cidr, --range or --mdns")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if scanMDNS {
		candidates, err := discovery.NewMDNS(cfg.Discovery.MDNS).Candidates(ctx)
		if err != nil {
			return fmt.Errorf("mDNS discovery failed: %w", err)
		}
		if verbose {
			fmt.Fprintf(cmd.ErrOrStderr(), "mDNS announced %d candidate(s)\n", len(candidates))
		}
		specs = append(specs, discovery.Specs(candidates)...)
	}

	prober := probe.NewMoonrakerProber(cfg.Scanning.ProbePort, cfg.Scanning.VendorPrefix)

	var progress io.Writer
	if verbose {
		progress = cmd.ErrOrStderr()
	}
	snap, err := executeScan(ctx, cfg.Scanning, specs, prober, progress)
	if err != nil {
		return err
	}

	return renderResults(cmd.OutOrStdout(), snap, scanOutput)
}

// buildSpecs turns --cidr and --range values into range specifications.
func buildSpecs(cidrs, ranges []string) ([]netrange.Spec, error) {
	specs := make([]netrange.Spec, 0, len(cidrs)+len(ranges))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		specs = append(specs, netrange.Spec{CIDR: c})
	}
	for _, r := range ranges {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		begin, end, ok := strings.Cut(r, "-")
		if !ok {
			return nil, fmt.Errorf("invalid range %q: expected begin-end", r)
		}
		specs = append(specs, netrange.Spec{
			Begin: strings.TrimSpace(begin),
			End:   strings.TrimSpace(end),
		})
	}
	return specs, nil
}

// executeScan runs one task on a private engine and waits for it. Progress
// lines go to progress when it is not nil.
func executeScan(ctx context.Context, cfg config.ScanningConfig, specs []netrange.Spec,
	prober probe.Prober, progress io.Writer) (workers.TaskSnapshot, error) {
	cfg.Retention = 0
	svc := scanning.NewService(cfg, prober)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), engineShutdownTimeout)
		defer cancel()
		_ = svc.Shutdown(shutdownCtx)
	}()

	id, err := svc.CreateScan(specs)
	if err != nil {
		return workers.TaskSnapshot{}, err
	}

	var onProgress func(workers.TaskSnapshot)
	if progress != nil {
		onProgress = func(s workers.TaskSnapshot) {
			fmt.Fprintf(progress, "probed %d/%d, found %d\n", s.ProbedCount, s.TotalCount, s.RecognizedCount)
		}
	}

	return svc.Wait(ctx, id, scanPollInterval, onProgress)
}

// renderResults writes the recognized devices in the requested format.
func renderResults(out io.Writer, snap workers.TaskSnapshot, format string) error {
	devices := append([]probe.Device(nil), snap.Recognized...)
	sort.Slice(devices, func(i, j int) bool {
		return addrLess(devices[i].Address, devices[j].Address)
	})

	if format == outputJSON {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(devices)
	}

	if len(devices) == 0 {
		fmt.Fprintf(out, "No printers found (%d addresses probed)\n", snap.ProbedCount)
		return nil
	}

	table := tablewriter.NewWriter(out)
	table.Header("Address", "Model", "Name", "Serial", "Version", "Network")
	for i := range devices {
		d := &devices[i]
		_ = table.Append([]string{
			d.Address,
			orDash(d.Model),
			orDash(d.Name),
			orDash(d.SerialNumber),
			orDash(d.Version),
			formatInterfaces(d.Network),
		})
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render results: %w", err)
	}

	fmt.Fprintf(out, "%d printer(s) found, %d addresses probed\n", len(devices), snap.ProbedCount)
	return nil
}

// addrLess orders dotted decimal addresses numerically.
func addrLess(a, b string) bool {
	aa, aerr := netip.ParseAddr(a)
	ba, berr := netip.ParseAddr(b)
	if aerr != nil || berr != nil {
		return a < b
	}
	return aa.Less(ba)
}

func formatInterfaces(ifaces []probe.Interface) string {
	if len(ifaces) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(ifaces))
	for _, i := range ifaces {
		parts = append(parts, fmt.Sprintf("%s %s (%s)", i.Name, i.IP, i.Type))
	}
	return strings.Join(parts, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
