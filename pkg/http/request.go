package http

import (
	"net"
	"net/http"
	"strings"

	"github.com/BradenHooton/keystone/internal/models"
)

const maxUserAgentLen = 512

// IPConfig holds the CIDR ranges of trusted reverse proxies
type IPConfig struct {
	TrustedProxies []string

	nets []*net.IPNet
}

// NewIPConfig parses the trusted proxy ranges once. Invalid ranges are skipped.
func NewIPConfig(trustedProxies []string) *IPConfig {
	cfg := &IPConfig{TrustedProxies: trustedProxies}
	for _, cidr := range trustedProxies {
		_, ipNet, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			continue
		}
		cfg.nets = append(cfg.nets, ipNet)
	}
	return cfg
}

// ExtractClientIP returns the client address. Forwarding headers are only
// honored when the direct peer is a trusted proxy.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := remoteAddr(r)

	if config == nil || !config.trusts(remoteIP) {
		return remoteIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, ip := range strings.Split(xff, ",") {
			ip = strings.TrimSpace(ip)
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}

	return remoteIP
}

// NewRequestContext captures the caller's network identity once per request
func NewRequestContext(r *http.Request, config *IPConfig, userID string) models.RequestContext {
	ua := r.UserAgent()
	if len(ua) > maxUserAgentLen {
		ua = ua[:maxUserAgentLen]
	}

	return models.RequestContext{
		IPAddress: ExtractClientIP(r, config),
		UserAgent: ua,
		UserID:    userID,
	}
}

func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

func (c *IPConfig) trusts(ip string) bool {
	// configs built as struct literals have not been parsed yet
	nets := c.nets
	if nets == nil && len(c.TrustedProxies) > 0 {
		nets = NewIPConfig(c.TrustedProxies).nets
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}
