package trap

import (
	crand "crypto/rand"
	"math/rand/v2"
	"net/netip"
	"strings"
	"sync"
)

const LocalRegion = "LOCAL_NET"

var regions = [...]string{"CN (China)", "RU (Russia)", "US (USA)", "BR (Brazil)"}

const (
	minThreat = 10
	maxThreat = 100
)

// Enricher attaches a synthetic region and a threat score to captures.
// Neither value is real intelligence.
type Enricher struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewEnricher uses src for threat scores. A nil src gets a ChaCha8 source
// seeded from crypto/rand.
func NewEnricher(src rand.Source) *Enricher {
	if src == nil {
		var seed [32]byte
		_, _ = crand.Read(seed[:])
		src = rand.NewChaCha8(seed)
	}
	return &Enricher{rng: rand.New(src)}
}

// Region maps an address to a label. The result depends only on the input.
func (e *Enricher) Region(addr string) string {
	return regionFor(addr)
}

// ThreatScore returns a uniform integer in [10, 100].
func (e *Enricher) ThreatScore() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return minThreat + e.rng.IntN(maxThreat-minThreat+1)
}

func regionFor(addr string) string {
	if strings.HasPrefix(addr, "192.168") || strings.HasPrefix(addr, "127") || strings.HasPrefix(addr, "10.") {
		return LocalRegion
	}

	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return regions[fallbackKey(addr)%len(regions)]
	}
	ip = ip.Unmap()
	if ip.IsLoopback() {
		return LocalRegion
	}
	if ip.Is4() {
		// unmapped ::ffff:a.b.c.d
		s := ip.String()
		if strings.HasPrefix(s, "192.168") || strings.HasPrefix(s, "127") || strings.HasPrefix(s, "10.") {
			return LocalRegion
		}
	}
	b := ip.AsSlice()
	return regions[int(b[len(b)-1])%len(regions)]
}

// fallbackKey uses the trailing run of digits, or the byte sum when there is none.
func fallbackKey(s string) int {
	end := len(s)
	start := end
	for start > 0 && s[start-1] >= '0' && s[start-1] <= '9' {
		start--
	}
	if start < end {
		n := 0
		// mod 4 only depends on the final digits
		if end-start > 3 {
			start = end - 3
		}
		for _, c := range s[start:end] {
			n = n*10 + int(c-'0')
		}
		return n
	}
	sum := 0
	for i := 0; i < len(s); i++ {
		sum += int(s[i])
	}
	return sum
}
