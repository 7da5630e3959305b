package ipintel

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/gokaycavdar/go-riskguard/pkg/models"
)

const defaultIPAPIURL = "https://ipapi.co"

var (
	datacenterKeywords = []string{
		"amazon", "aws", "google cloud", "microsoft azure", "digitalocean", "linode",
		"ovh", "hetzner", "vultr", "contabo", "oracle cloud", "alibaba cloud",
		"hosting", "data center", "datacenter", "server", "cloud",
	}
	vpnKeywords = []string{
		"vpn", "proxy", "nordvpn", "expressvpn", "surfshark", "cyberghost",
		"private internet access", "protonvpn", "tunnelbear", "windscribe", "mullvad",
	}
	proxyKeywords = []string{"proxy", "anonymizer", "vpn gate", "tor exit"}
)

// ipapiResponse is the subset of the ipapi.co JSON document we read.
type ipapiResponse struct {
	IP          string  `json:"ip"`
	Hostname    string  `json:"hostname"`
	City        string  `json:"city"`
	CountryCode string  `json:"country_code"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	ASN         string  `json:"asn"`
	Org         string  `json:"org"`
	Error       bool    `json:"error"`
	Reason      string  `json:"reason"`
}

// IPAPIAnalyzer queries the ipapi.co HTTP API. The API does not report
// anonymizers directly, so flags are inferred from the organization name and
// reverse hostname.
type IPAPIAnalyzer struct {
	client *resty.Client
}

// NewIPAPIAnalyzer creates an analyzer. An empty baseURL uses ipapi.co.
func NewIPAPIAnalyzer(baseURL string, timeout time.Duration) *IPAPIAnalyzer {
	if baseURL == "" {
		baseURL = defaultIPAPIURL
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("User-Agent", "go-riskguard/1.0").
		SetHeader("Accept", "application/json")
	return &IPAPIAnalyzer{client: client}
}

func (a *IPAPIAnalyzer) Name() string { return "ipapi" }

func (a *IPAPIAnalyzer) Analyze(ctx context.Context, ip string) (*models.IPSignal, error) {
	if IsPrivate(ip) {
		return privateSignal(ip, a.Name()), nil
	}

	var body ipapiResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetPathParam("ip", ip).
		SetResult(&body).
		Get("/{ip}/json/")
	if err != nil {
		return nil, fmt.Errorf("%w: ipapi request: %v", ErrSignalUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: ipapi status %d", ErrSignalUnavailable, resp.StatusCode())
	}
	if body.Error {
		return nil, fmt.Errorf("%w: ipapi: %s", ErrSignalUnavailable, body.Reason)
	}

	org := strings.ToLower(body.Org)
	host := strings.ToLower(body.Hostname)
	sig := &models.IPSignal{
		IPAddress:          ip,
		ASNOrg:             body.Org,
		Country:            body.CountryCode,
		City:               body.City,
		Latitude:           body.Latitude,
		Longitude:          body.Longitude,
		DatacenterDetected: containsAny(org, datacenterKeywords),
		VPNDetected:        containsAny(org, vpnKeywords) || containsAny(host, vpnKeywords),
		ProxyDetected:      containsAny(org, proxyKeywords),
		TorDetected:        strings.Contains(host, "tor-exit") || strings.Contains(org, "tor exit"),
		Source:             a.Name(),
		ResolvedAt:         time.Now().UTC(),
	}
	if n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToUpper(body.ASN), "AS"), 10, 32); err == nil {
		sig.ASN = uint(n)
	}
	sig.ReputationScore = Reputation(sig)
	return sig, nil
}

func containsAny(s string, keywords []string) bool {
	if s == "" {
		return false
	}
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
