package trap

import "strings"

type Classification int

const (
	Untrusted Classification = iota
	Trusted
)

func (c Classification) String() string {
	switch c {
	case Trusted:
		return "trusted"
	case Untrusted:
		return "untrusted"
	default:
		return "unknown"
	}
}

// Whitelist is an exact-match set of source addresses exempt from capture.
// It is never mutated after construction, so concurrent reads need no lock.
type Whitelist struct {
	addrs map[string]struct{}
}

func NewWhitelist(addrs []string) *Whitelist {
	w := &Whitelist{addrs: make(map[string]struct{}, len(addrs))}
	for _, a := range addrs {
		if a = strings.TrimSpace(a); a != "" {
			w.addrs[a] = struct{}{}
		}
	}
	return w
}

// Classify compares the address text as given: no CIDR, no wildcards,
// no normalisation.
func (w *Whitelist) Classify(addr string) Classification {
	if w.Contains(addr) {
		return Trusted
	}
	return Untrusted
}

func (w *Whitelist) Contains(addr string) bool {
	if w == nil {
		return false
	}
	_, ok := w.addrs[addr]
	return ok
}

func (w *Whitelist) Len() int {
	if w == nil {
		return 0
	}
	return len(w.addrs)
}
