// Package cidr implements the IP classifier and named-CIDR-list engine
// (spec §4.4): ordered IPv4 range membership, endpoint IP extraction, and
// named-list selection with inverse/single/multiple modes.
//
// Membership testing is modeled on endpoint.TargetNetFilter's
// net.ParseCIDR/*net.IPNet matching in the teacher repo, generalized to
// preserve range order (first-match-wins) and named-list selection
// instead of a single allow/exclude pair.
package cidr

import (
	"fmt"
	"net"
	"strings"
)

// Mode controls how many IPs a named list yields per machine.
type Mode string

const (
	ModeSingle   Mode = "single"
	ModeMultiple Mode = "multiple"
)

// List is a named, ordered set of IPv4 CIDR ranges with a matching mode.
type List struct {
	Name        string
	Description string
	CIDRs       []string
	Mode        Mode
	Inverse     bool

	nets []*net.IPNet
}

// Compile parses l.CIDRs into *net.IPNet, preserving order. Must be called
// before InRange/Select are used; returns an error naming the first
// invalid CIDR so config validation can surface a field-qualified message.
func (l *List) Compile() error {
	if len(l.CIDRs) == 0 {
		return fmt.Errorf("named CIDR list %q: must have at least one CIDR", l.Name)
	}
	nets := make([]*net.IPNet, 0, len(l.CIDRs))
	for _, c := range l.CIDRs {
		_, n, err := net.ParseCIDR(strings.TrimSpace(c))
		if err != nil {
			return fmt.Errorf("named CIDR list %q: invalid CIDR %q: %w", l.Name, c, err)
		}
		nets = append(nets, n)
	}
	l.nets = nets
	return nil
}

// InRange reports whether ip falls in any of nets, checked in order.
func InRange(ip net.IP, nets []*net.IPNet) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// rangeIndex returns the index of the first range in nets containing ip,
// or -1 if none match.
func rangeIndex(ip net.IP, nets []*net.IPNet) int {
	for i, n := range nets {
		if n.Contains(ip) {
			return i
		}
	}
	return -1
}

// ExtractEndpointIPs parses "ip:port" (IPv4) or "[ip]:port" (IPv6) entries
// and returns the IPv4 addresses in input order. IPv6 endpoints are
// dropped in this revision (spec §4.4).
func ExtractEndpointIPs(endpoints []string, dropped func(endpoint string)) []net.IP {
	var ips []net.IP
	for _, e := range endpoints {
		host, _, err := net.SplitHostPort(e)
		if err != nil {
			// no port present; treat whole string as host
			host = e
		}
		ip := net.ParseIP(strings.Trim(host, "[]"))
		if ip == nil {
			continue
		}
		if ip4 := ip.To4(); ip4 != nil {
			ips = append(ips, ip4)
			continue
		}
		if dropped != nil {
			dropped(e)
		}
	}
	return ips
}

// Select implements §4.4's selectFromNamedList over a single list, given
// the endpoint IPs already extracted for a machine (in machine order).
func Select(endpointIPs []net.IP, l *List) []net.IP {
	var result []net.IP
	if l.Inverse {
		for _, ip := range endpointIPs {
			if rangeIndex(ip, l.nets) == -1 {
				result = appendUnique(result, ip)
			}
		}
	} else {
		// order-stable dedup that respects range priority: walk ranges in
		// list order, and for each range append any endpoint IP that
		// matches it and hasn't been included yet.
		for _, n := range l.nets {
			for _, ip := range endpointIPs {
				if n.Contains(ip) {
					result = appendUnique(result, ip)
				}
			}
		}
	}

	if l.Mode == ModeSingle && len(result) > 0 {
		result = result[:1]
	}
	return result
}

// SelectUnion evaluates cidr.<listA>,<listB>,... template variables: the
// union of each named list's selection, preserving per-list ordering and
// not re-deduplicating across lists (a variable naming the same list
// twice is the caller's problem, not this function's).
func SelectUnion(endpointIPs []net.IP, lists []*List) []net.IP {
	var result []net.IP
	for _, l := range lists {
		result = append(result, Select(endpointIPs, l)...)
	}
	return result
}

func appendUnique(ips []net.IP, ip net.IP) []net.IP {
	for _, existing := range ips {
		if existing.Equal(ip) {
			return ips
		}
	}
	return append(ips, ip)
}

// Nets exposes the compiled ranges, used by tests and by InRange callers
// that only have a List (not a raw []*net.IPNet) in hand.
func (l *List) Nets() []*net.IPNet {
	return l.nets
}
