package security

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"sync/atomic"

	"budgetbuddy/internal/log"
)

// Verdict is the outcome of inspecting a request.
type Verdict int

const (
	Allow Verdict = iota
	// Flag logs the request and serves it.
	Flag
	// Block rejects the request before routing.
	Block
)

// DetectionMetrics counts inspected requests by verdict.
type DetectionMetrics struct {
	Flagged int64
	Blocked int64
}

// Detector inspects requests to the web UI and resolves client addresses
// behind trusted proxies.
type Detector struct {
	trusted []netip.Prefix
	flagged atomic.Int64
	blocked atomic.Int64
}

// maxURLLength is well above the longest filtered transactions URL.
const maxURLLength = 2048

var (
	// scanPaths are paths scanners try; the UI serves none of them.
	scanPaths = []string{"../", "..\\", "/.env", "/.git", "/wp-", ".php", "/cgi-bin", "etc/passwd", "/actuator", "/.aws"}

	// injections are looked for in decoded query values, since notice, next
	// and the filter fields come from the query string.
	injections = []string{"<script", "javascript:", "union select", "' or '1'='1"}

	scanners = []string{"sqlmap", "nikto", "nmap", "gobuster", "dirbuster", "masscan", "zgrab", "nuclei"}
)

// NewDetector trusts forwarded headers from peers inside the given CIDRs.
func NewDetector(trustedProxies ...string) (*Detector, error) {
	d := &Detector{}
	for _, cidr := range trustedProxies {
		p, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", cidr, err)
		}
		d.trusted = append(d.trusted, p.Masked())
	}
	return d, nil
}

// Inspect classifies r and returns the reason for anything but Allow.
func (d *Detector) Inspect(r *http.Request) (Verdict, string) {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodPost:
	default:
		return Block, "method"
	}

	path := strings.ToLower(r.URL.Path)
	for _, p := range scanPaths {
		if strings.Contains(path, p) {
			return Block, "scan path"
		}
	}
	if len(r.URL.RequestURI()) > maxURLLength {
		return Block, "long url"
	}

	for _, vals := range r.URL.Query() {
		for _, v := range vals {
			v = strings.ToLower(v)
			for _, p := range injections {
				if strings.Contains(v, p) {
					return Flag, "query injection"
				}
			}
		}
	}

	agent := strings.ToLower(r.UserAgent())
	for _, s := range scanners {
		if strings.Contains(agent, s) {
			return Flag, "scanner"
		}
	}
	return Allow, ""
}

// ClientIP returns the address of the client. X-Forwarded-For is read from
// the right and only hops added by trusted proxies are skipped, so a client
// cannot choose its own address.
func (d *Detector) ClientIP(r *http.Request) string {
	peer, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	addr := peer.Addr().Unmap()
	if !d.isTrusted(addr) {
		return addr.String()
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		addr = hop.Unmap()
		if !d.isTrusted(addr) {
			break
		}
	}
	return addr.String()
}

func (d *Detector) isTrusted(addr netip.Addr) bool {
	for _, p := range d.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (d *Detector) GetMetrics() DetectionMetrics {
	return DetectionMetrics{Flagged: d.flagged.Load(), Blocked: d.blocked.Load()}
}

// Middleware logs flagged requests and answers blocked ones with 405 for
// foreign methods and 404 otherwise.
func (d *Detector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verdict, reason := d.Inspect(r)
		if verdict == Allow {
			next.ServeHTTP(w, r)
			return
		}

		logger := log.FromContext(r.Context())
		attrs := []any{log.FieldMethod, r.Method, log.FieldPath, r.URL.Path,
			log.FieldClientIP, d.ClientIP(r), log.FieldDecision, reason}
		if verdict == Flag {
			d.flagged.Add(1)
			logger.WarnContext(r.Context(), "Suspicious request", attrs...)
			next.ServeHTTP(w, r)
			return
		}

		d.blocked.Add(1)
		logger.WarnContext(r.Context(), "Request blocked", attrs...)
		if reason == "method" {
			w.Header().Set("Allow", "GET, HEAD, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		http.NotFound(w, r)
	})
}
