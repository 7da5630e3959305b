package ipintel

import (
	"bufio"
	"net"
	"os"
	"strings"
)

// DefaultDatacenterASNs are common cloud and hosting providers. Traffic from
// them is rarely a person at a browser.
func DefaultDatacenterASNs() map[uint]string {
	return map[uint]string{
		16509:  "Amazon.com (AWS)",
		14618:  "Amazon.com (AWS)",
		15169:  "Google Cloud",
		396982: "Google Cloud",
		8075:   "Microsoft Azure",
		14061:  "DigitalOcean",
		24940:  "Hetzner Online GmbH",
		16276:  "OVH SAS",
		12876:  "Online S.A.S. (Scaleway)",
		49981:  "WorldStream",
		63949:  "Linode",
		46606:  "Unified Layer",
		36352:  "ColoCrossing",
		51167:  "Contabo GmbH",
		31898:  "Oracle Cloud",
		45102:  "Alibaba Cloud",
	}
}

// DefaultVPNASNs are networks mostly used as commercial VPN exits.
func DefaultVPNASNs() map[uint]string {
	return map[uint]string{
		9009:   "M247 Europe",
		60068:  "Datacamp Limited (CDN77)",
		20473:  "Choopa, LLC (Vultr)",
		13335:  "Cloudflare", // includes WARP users
		212238: "Datacamp Limited",
		136787: "TEFINCOM (NordVPN)",
	}
}

// MaskPrefix masks an address to its /24 (IPv4) or /64 (IPv6) prefix.
func MaskPrefix(ipStr string) string {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return ""
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String() + "/24"
	}
	return ip.To16().Mask(net.CIDRMask(64, 128)).String() + "/64"
}

// PrefixList is a set of masked prefixes, used for open proxies, Tor exits
// and abusive networks. Single addresses are widened to their /24 (or /64);
// wider CIDR blocks are matched by containment. A list is filled once and
// only read afterwards; per-address blocking is the blocklist's job.
type PrefixList struct {
	prefixes map[string]bool
	blocks   []*net.IPNet
}

// NewPrefixList builds a list from single addresses or CIDR prefixes.
func NewPrefixList(entries ...string) *PrefixList {
	l := &PrefixList{prefixes: make(map[string]bool, len(entries))}
	for _, e := range entries {
		l.add(e)
	}
	return l
}

// LoadPrefixList reads a list file.
//
// Supported formats:
//   - one IP per line
//   - lines starting with # are comments
//   - IPsum format: "1.2.3.4\t5" (IP, TAB, count)
//   - CIDR notation, e.g. "1.2.3.0/24"
func LoadPrefixList(path string) (*PrefixList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	l := NewPrefixList()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if fields := strings.Fields(line); len(fields) > 0 {
			l.add(fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return l, nil
}

// entryKey returns the map key for an entry, or the block it denotes when
// the entry is a CIDR wider than the masking prefix.
func entryKey(entry string) (string, *net.IPNet) {
	if !strings.Contains(entry, "/") {
		return MaskPrefix(entry), nil
	}
	_, block, err := net.ParseCIDR(entry)
	if err != nil {
		return "", nil
	}
	ones, bits := block.Mask.Size()
	if (bits == 32 && ones >= 24) || (bits == 128 && ones >= 64) {
		return MaskPrefix(block.IP.String()), nil
	}
	return "", block
}

func (l *PrefixList) add(entry string) {
	key, block := entryKey(entry)
	switch {
	case block != nil:
		l.blocks = append(l.blocks, block)
	case key != "":
		l.prefixes[key] = true
	}
}

// Contains reports whether ip is listed.
func (l *PrefixList) Contains(ip string) bool {
	if l == nil {
		return false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	if l.prefixes[MaskPrefix(ip)] {
		return true
	}
	for _, b := range l.blocks {
		if b.Contains(parsed) {
			return true
		}
	}
	return false
}

// Count returns the number of listed prefixes and blocks.
func (l *PrefixList) Count() int {
	return len(l.prefixes) + len(l.blocks)
}
