package ipintel

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/oschwald/geoip2-golang"

	"github.com/gokaycavdar/go-riskguard/pkg/models"
)

// Lookup is the subset of the MaxMind readers the analyzer needs.
type Lookup interface {
	City(ip net.IP) (*geoip2.City, error)
	ASN(ip net.IP) (*geoip2.ASN, error)
	Close() error
}

// MaxMindDB pairs a GeoLite2-City and a GeoLite2-ASN reader.
type MaxMindDB struct {
	cityReader *geoip2.Reader
	asnReader  *geoip2.Reader
}

// OpenMaxMind opens both .mmdb files.
func OpenMaxMind(cityDBPath, asnDBPath string) (*MaxMindDB, error) {
	cityReader, err := geoip2.Open(cityDBPath)
	if err != nil {
		return nil, fmt.Errorf("open city database: %w", err)
	}
	asnReader, err := geoip2.Open(asnDBPath)
	if err != nil {
		cityReader.Close()
		return nil, fmt.Errorf("open asn database: %w", err)
	}
	return &MaxMindDB{cityReader: cityReader, asnReader: asnReader}, nil
}

func (m *MaxMindDB) City(ip net.IP) (*geoip2.City, error) { return m.cityReader.City(ip) }
func (m *MaxMindDB) ASN(ip net.IP) (*geoip2.ASN, error)   { return m.asnReader.ASN(ip) }

func (m *MaxMindDB) Close() error {
	cerr := m.cityReader.Close()
	aerr := m.asnReader.Close()
	if cerr != nil {
		return cerr
	}
	return aerr
}

// GeoIPAnalyzer resolves signals from local MaxMind databases and static
// network lists. It never leaves the process.
type GeoIPAnalyzer struct {
	db          Lookup
	datacenters map[uint]string
	vpns        map[uint]string
	proxies     *PrefixList // open proxies and Tor exits
	abusive     *PrefixList // known bot and abuse sources
}

// GeoIPOption customizes a GeoIPAnalyzer.
type GeoIPOption func(*GeoIPAnalyzer)

// WithProxyList sets the open proxy / Tor exit list.
func WithProxyList(l *PrefixList) GeoIPOption {
	return func(a *GeoIPAnalyzer) { a.proxies = l }
}

// WithAbuseList sets the bot / abuse list.
func WithAbuseList(l *PrefixList) GeoIPOption {
	return func(a *GeoIPAnalyzer) { a.abusive = l }
}

// WithASNLists replaces the datacenter and VPN ASN tables.
func WithASNLists(datacenters, vpns map[uint]string) GeoIPOption {
	return func(a *GeoIPAnalyzer) {
		a.datacenters = datacenters
		a.vpns = vpns
	}
}

// NewGeoIPAnalyzer creates an analyzer over db.
func NewGeoIPAnalyzer(db Lookup, opts ...GeoIPOption) *GeoIPAnalyzer {
	a := &GeoIPAnalyzer{
		db:          db,
		datacenters: DefaultDatacenterASNs(),
		vpns:        DefaultVPNASNs(),
		proxies:     NewPrefixList(),
		abusive:     NewPrefixList(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *GeoIPAnalyzer) Name() string { return "maxmind" }

// Analyze looks the address up in the City and ASN databases and matches it
// against the network lists. A missing City entry is not an error; a failed
// ASN lookup is, since the flags depend on it.
func (a *GeoIPAnalyzer) Analyze(_ context.Context, ipAddress string) (*models.IPSignal, error) {
	if IsPrivate(ipAddress) {
		return privateSignal(ipAddress, a.Name()), nil
	}
	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return nil, fmt.Errorf("invalid ip address: %q", ipAddress)
	}

	sig := &models.IPSignal{IPAddress: ipAddress, Source: a.Name(), ResolvedAt: time.Now().UTC()}

	asn, err := a.db.ASN(ip)
	if err != nil {
		return nil, fmt.Errorf("%w: asn lookup: %v", ErrSignalUnavailable, err)
	}
	sig.ASN = uint(asn.AutonomousSystemNumber)
	sig.ASNOrg = asn.AutonomousSystemOrganization

	if city, err := a.db.City(ip); err == nil && city != nil {
		sig.Country = city.Country.IsoCode
		sig.City = city.City.Names["en"]
		sig.Latitude = city.Location.Latitude
		sig.Longitude = city.Location.Longitude
	}

	if _, ok := a.datacenters[sig.ASN]; ok {
		sig.DatacenterDetected = true
	}
	if _, ok := a.vpns[sig.ASN]; ok {
		sig.VPNDetected = true
	}
	if a.proxies.Contains(ipAddress) {
		sig.ProxyDetected = true
	}
	if a.abusive.Contains(ipAddress) {
		sig.BotDetected = true
	}
	sig.ReputationScore = Reputation(sig)
	return sig, nil
}

func (a *GeoIPAnalyzer) Close() error { return a.db.Close() }
