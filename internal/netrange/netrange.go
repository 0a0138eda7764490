// Package netrange turns user supplied IPv4 range specifications into the
// deduplicated, filtered list of addresses the scan engine probes.
package netrange

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"go4.org/netipx"

	"github.com/anstrom/farmscan/internal/errors"
)

// Spec is a single range specification. Exactly one of CIDR or the
// Begin/End pair is set.
type Spec struct {
	CIDR  string `json:"cidr,omitempty" yaml:"cidr,omitempty"`
	Begin string `json:"begin,omitempty" yaml:"begin,omitempty" validate:"omitempty,ipv4"`
	End   string `json:"end,omitempty" yaml:"end,omitempty" validate:"omitempty,ipv4"`
}

// String renders the range the way it was supplied.
func (s Spec) String() string {
	if s.CIDR != "" {
		return s.CIDR
	}
	return s.Begin + "-" + s.End
}

// Range parses s into an inclusive IPv4 interval. Host bits of a
// CIDR are ignored.
func (s Spec) Range() (netipx.IPRange, error) {
	switch {
	case s.CIDR != "" && (s.Begin != "" || s.End != ""):
		return netipx.IPRange{}, errors.ErrInvalidRange(s.String(), fmt.Errorf("cidr and begin/end are mutually exclusive"))
	case s.CIDR != "":
		prefix, err := netip.ParsePrefix(s.CIDR)
		if err != nil {
			return netipx.IPRange{}, errors.ErrInvalidRange(s.CIDR, err)
		}
		if !prefix.Addr().Is4() {
			return netipx.IPRange{}, errors.ErrInvalidRange(s.CIDR, fmt.Errorf("not an IPv4 prefix"))
		}
		return netipx.RangeOfPrefix(prefix.Masked()), nil
	case s.Begin != "" && s.End != "":
		begin, err := parseIPv4(s.Begin)
		if err != nil {
			return netipx.IPRange{}, errors.ErrInvalidRange(s.String(), err)
		}
		end, err := parseIPv4(s.End)
		if err != nil {
			return netipx.IPRange{}, errors.ErrInvalidRange(s.String(), err)
		}
		r := netipx.IPRangeFrom(begin, end)
		if !r.IsValid() {
			return netipx.IPRange{}, errors.ErrInvalidRange(s.String(), fmt.Errorf("begin is after end"))
		}
		return r, nil
	default:
		return netipx.IPRange{}, errors.ErrInvalidRange(s.String(), fmt.Errorf("either cidr or begin and end are required"))
	}
}

func parseIPv4(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, err
	}
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%s is not an IPv4 address", s)
	}
	return addr, nil
}

// Expand accumulates every spec into a set. When maxCount is positive the
// operation fails as soon as a range would bring the total to maxCount or more;
// the check runs before the range is added so huge ranges fail fast.
func Expand(specs []Spec, maxCount int) (*netipx.IPSet, error) {
	var b netipx.IPSetBuilder
	current := uint64(0)

	for _, spec := range specs {
		r, err := spec.Range()
		if err != nil {
			return nil, err
		}
		if maxCount > 0 && rangeSize(r)+current >= uint64(maxCount) {
			return nil, errors.ErrRangeTooLarge(maxCount)
		}
		b.AddRange(r)

		set, err := b.IPSet()
		if err != nil {
			return nil, errors.WrapScanError(errors.CodeRangeInvalid, "Failed to build address set", err)
		}
		current = SetSize(set)
	}

	return b.IPSet()
}

// specialPrefixes can never host a reachable device.
var specialPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/32"),
	netip.MustParsePrefix("255.255.255.255/32"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
}

// IsSpecial reports whether addr falls in an unscannable block.
func IsSpecial(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range specialPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Filter drops the special blocks from set and enumerates what remains in
// ascending order.
func Filter(set *netipx.IPSet) []netip.Addr {
	if set == nil {
		return nil
	}

	var b netipx.IPSetBuilder
	b.AddSet(set)
	for _, p := range specialPrefixes {
		b.RemovePrefix(p)
	}
	filtered, err := b.IPSet()
	if err != nil {
		return nil
	}

	out := make([]netip.Addr, 0, SetSize(filtered))
	for _, r := range filtered.Ranges() {
		for addr := r.From(); ; addr = addr.Next() {
			out = append(out, addr)
			if addr == r.To() {
				break
			}
		}
	}
	return out
}

// Resolve expands specs and filters special blocks, returning dotted
// decimal addresses ready for the scan engine.
func Resolve(specs []Spec, maxCount int) ([]string, error) {
	set, err := Expand(specs, maxCount)
	if err != nil {
		return nil, err
	}
	addrs := Filter(set)
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out, nil
}

// SetSize counts the addresses held by an IPv4 set.
func SetSize(set *netipx.IPSet) uint64 {
	var n uint64
	for _, r := range set.Ranges() {
		n += rangeSize(r)
	}
	return n
}

func rangeSize(r netipx.IPRange) uint64 {
	from, to := r.From().As4(), r.To().As4()
	return uint64(binary.BigEndian.Uint32(to[:])) - uint64(binary.BigEndian.Uint32(from[:])) + 1
}
