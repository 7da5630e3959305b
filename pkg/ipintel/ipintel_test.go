package ipintel

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oschwald/geoip2-golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gokaycavdar/go-riskguard/pkg/models"
)

type fakeLookup struct {
	asn    map[string]*geoip2.ASN
	asnErr error
}

func (f *fakeLookup) City(ip net.IP) (*geoip2.City, error) {
	c := &geoip2.City{}
	c.Country.IsoCode = "BR"
	c.City.Names = map[string]string{"en": "Sao Paulo"}
	c.Location.Latitude = -23.55
	c.Location.Longitude = -46.63
	return c, nil
}

func (f *fakeLookup) ASN(ip net.IP) (*geoip2.ASN, error) {
	if f.asnErr != nil {
		return nil, f.asnErr
	}
	if a, ok := f.asn[ip.String()]; ok {
		return a, nil
	}
	return &geoip2.ASN{AutonomousSystemNumber: 28573, AutonomousSystemOrganization: "Claro NXT"}, nil
}

func (f *fakeLookup) Close() error { return nil }

func TestIsPrivate(t *testing.T) {
	for _, ip := range []string{"127.0.0.1", "::1", "10.1.2.3", "172.16.0.1", "192.168.1.1", "169.254.1.1", "0.0.0.0", "localhost"} {
		assert.True(t, IsPrivate(ip), ip)
	}
	for _, ip := range []string{"8.8.8.8", "200.147.67.142", "172.32.0.1", "not-an-ip"} {
		assert.False(t, IsPrivate(ip), ip)
	}
}

func TestReputation(t *testing.T) {
	assert.Zero(t, Reputation(&models.IPSignal{}))
	assert.Equal(t, 40.0, Reputation(&models.IPSignal{VPNDetected: true}))
	assert.Equal(t, 90.0, Reputation(&models.IPSignal{VPNDetected: true, DatacenterDetected: true}))
	assert.Equal(t, 100.0, Reputation(&models.IPSignal{TorDetected: true, ProxyDetected: true}))
}

func TestPrefixList(t *testing.T) {
	l := NewPrefixList("185.220.101.1", "2001:db8::1", "45.0.0.0/24")
	assert.True(t, l.Contains("185.220.101.77"))
	assert.True(t, l.Contains("2001:db8::abcd"))
	assert.True(t, l.Contains("45.0.0.9"))
	assert.False(t, l.Contains("185.220.102.1"))
	assert.Equal(t, 3, l.Count())
	assert.False(t, (*PrefixList)(nil).Contains("185.220.101.1"))
}

func TestPrefixList_WideBlocks(t *testing.T) {
	l := NewPrefixList("100.64.0.0/10", "not-an-ip/8")
	assert.Equal(t, 1, l.Count())
	assert.True(t, l.Contains("100.100.1.1"))
	assert.False(t, l.Contains("100.128.0.1"))
	assert.False(t, l.Contains("garbage"))
	assert.False(t, l.Contains("2001:db8::1"))
}

func TestLoadPrefixList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipsum.txt")
	content := "# IPsum list\n1.2.3.4\t5\n\n5.6.7.0/24\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	l, err := LoadPrefixList(path)
	require.NoError(t, err)
	assert.Equal(t, 2, l.Count())
	assert.True(t, l.Contains("1.2.3.200"))
	assert.True(t, l.Contains("5.6.7.8"))

	_, err = LoadPrefixList(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestGeoIPAnalyzer(t *testing.T) {
	db := &fakeLookup{asn: map[string]*geoip2.ASN{
		"3.3.3.3": {AutonomousSystemNumber: 16509, AutonomousSystemOrganization: "Amazon.com"},
		"5.5.5.5": {AutonomousSystemNumber: 9009, AutonomousSystemOrganization: "M247 Europe"},
	}}
	a := NewGeoIPAnalyzer(db,
		WithProxyList(NewPrefixList("185.220.101.1")),
		WithAbuseList(NewPrefixList("66.66.66.66")),
	)
	ctx := context.Background()

	residential, err := a.Analyze(ctx, "200.147.67.142")
	require.NoError(t, err)
	assert.False(t, residential.Anonymized())
	assert.Zero(t, residential.ReputationScore)
	assert.Equal(t, "BR", residential.Country)
	assert.Equal(t, uint(28573), residential.ASN)

	cloud, err := a.Analyze(ctx, "3.3.3.3")
	require.NoError(t, err)
	assert.True(t, cloud.DatacenterDetected)
	assert.Equal(t, 50.0, cloud.ReputationScore)

	vpn, err := a.Analyze(ctx, "5.5.5.5")
	require.NoError(t, err)
	assert.True(t, vpn.VPNDetected)

	proxy, err := a.Analyze(ctx, "185.220.101.9")
	require.NoError(t, err)
	assert.True(t, proxy.ProxyDetected)

	bot, err := a.Analyze(ctx, "66.66.66.1")
	require.NoError(t, err)
	assert.True(t, bot.BotDetected)

	other, err := a.Analyze(ctx, "77.77.77.1")
	require.NoError(t, err)
	assert.False(t, other.BotDetected)

	local, err := a.Analyze(ctx, "192.168.0.10")
	require.NoError(t, err)
	assert.Zero(t, local.ReputationScore)

	_, err = a.Analyze(ctx, "bogus")
	assert.Error(t, err)
}

func TestGeoIPAnalyzer_ASNFailure(t *testing.T) {
	a := NewGeoIPAnalyzer(&fakeLookup{asnErr: errors.New("corrupt db")})
	_, err := a.Analyze(context.Background(), "8.8.8.8")
	assert.ErrorIs(t, err, ErrSignalUnavailable)
}

func TestIPAPIAnalyzer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/45.1.1.1/json/":
			_, _ = w.Write([]byte(`{"ip":"45.1.1.1","org":"NordVPN S.A.","asn":"AS136787","country_code":"NL","city":"Amsterdam","latitude":52.37,"longitude":4.89}`))
		case "/200.1.1.1/json/":
			_, _ = w.Write([]byte(`{"ip":"200.1.1.1","org":"Telefonica Brasil","asn":"AS18881","country_code":"BR","city":"Sao Paulo"}`))
		case "/9.9.9.9/json/":
			_, _ = w.Write([]byte(`{"error":true,"reason":"RateLimited"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	a := NewIPAPIAnalyzer(srv.URL, time.Second)
	ctx := context.Background()

	vpn, err := a.Analyze(ctx, "45.1.1.1")
	require.NoError(t, err)
	assert.True(t, vpn.VPNDetected)
	assert.Equal(t, uint(136787), vpn.ASN)
	assert.Equal(t, "NL", vpn.Country)
	assert.Equal(t, 40.0, vpn.ReputationScore)

	clean, err := a.Analyze(ctx, "200.1.1.1")
	require.NoError(t, err)
	assert.False(t, clean.Anonymized())
	assert.False(t, clean.DatacenterDetected)

	_, err = a.Analyze(ctx, "9.9.9.9")
	assert.ErrorIs(t, err, ErrSignalUnavailable)

	_, err = a.Analyze(ctx, "1.2.3.4")
	assert.ErrorIs(t, err, ErrSignalUnavailable)

	local, err := a.Analyze(ctx, "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "ipapi", local.Source)
}

type stubAnalyzer struct {
	name string
	sig  *models.IPSignal
	err  error
}

func (s stubAnalyzer) Name() string { return s.name }
func (s stubAnalyzer) Analyze(context.Context, string) (*models.IPSignal, error) {
	if s.err != nil {
		return nil, s.err
	}
	c := *s.sig
	return &c, nil
}

func TestMulti_MergesProviders(t *testing.T) {
	m := NewMulti(zerolog.Nop(),
		stubAnalyzer{name: "a", sig: &models.IPSignal{Source: "a", ASN: 1, ASNOrg: "one", ReputationScore: 10}},
		stubAnalyzer{name: "b", err: errors.New("down")},
		stubAnalyzer{name: "c", sig: &models.IPSignal{Source: "c", VPNDetected: true, Country: "NL", ReputationScore: 40}},
	)
	sig, err := m.Analyze(context.Background(), "1.1.1.1")
	require.NoError(t, err)
	assert.True(t, sig.VPNDetected)
	assert.Equal(t, 40.0, sig.ReputationScore)
	assert.Equal(t, uint(1), sig.ASN)
	assert.Equal(t, "NL", sig.Country)
	assert.Equal(t, "a+c", sig.Source)
	assert.Equal(t, "1.1.1.1", sig.IPAddress)
}

func TestMulti_AllFail(t *testing.T) {
	m := NewMulti(zerolog.Nop(), stubAnalyzer{name: "a", err: errors.New("x")})
	_, err := m.Analyze(context.Background(), "1.1.1.1")
	assert.ErrorIs(t, err, ErrSignalUnavailable)

	_, err = NewMulti(zerolog.Nop()).Analyze(context.Background(), "1.1.1.1")
	assert.ErrorIs(t, err, ErrSignalUnavailable)
}

func TestCache(t *testing.T) {
	c, err := NewCache(":memory:", time.Hour)
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.Get("1.1.1.1")
	assert.False(t, ok)

	require.NoError(t, c.Put(&models.IPSignal{IPAddress: "1.1.1.1", VPNDetected: true}))
	got, ok := c.Get("1.1.1.1")
	require.True(t, ok)
	assert.True(t, got.VPNDetected)
	assert.Equal(t, 1, c.Len())
	assert.NoError(t, c.Put(nil))
}

func TestCache_Expires(t *testing.T) {
	c, err := NewCache(":memory:", 50*time.Millisecond)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put(&models.IPSignal{IPAddress: "2.2.2.2"}))
	assert.Eventually(t, func() bool {
		_, ok := c.Get("2.2.2.2")
		return !ok
	}, 2*time.Second, 20*time.Millisecond)
}
