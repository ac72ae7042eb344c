package util

import (
	"net"
	"net/netip"
	"sort"
)

// LANAddress returns the address a joiner on the same network is most likely
// to reach this machine at. Private IPv4 addresses rank first, then other
// non-loopback IPv4, then IPv6. It falls back to 127.0.0.1.
func LANAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}

	var candidates []netip.Addr
	for _, a := range addrs {
		prefix, err := netip.ParsePrefix(a.String())
		if err != nil {
			continue
		}
		candidates = append(candidates, prefix.Addr())
	}

	if best, ok := pickLANAddress(candidates); ok {
		return best.String()
	}
	return "127.0.0.1"
}

// pickLANAddress chooses the best candidate by rank, keeping the interface
// order for ties.
func pickLANAddress(addrs []netip.Addr) (netip.Addr, bool) {
	usable := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		a = a.Unmap()
		if !a.IsValid() || a.IsLoopback() || a.IsLinkLocalUnicast() || a.IsUnspecified() || a.IsMulticast() {
			continue
		}
		usable = append(usable, a)
	}
	if len(usable) == 0 {
		return netip.Addr{}, false
	}

	sort.SliceStable(usable, func(i, j int) bool {
		return lanRank(usable[i]) < lanRank(usable[j])
	})
	return usable[0], true
}

func lanRank(a netip.Addr) int {
	switch {
	case a.Is4() && a.IsPrivate():
		return 0
	case a.Is4():
		return 1
	case a.IsPrivate():
		return 2
	default:
		return 3
	}
}
