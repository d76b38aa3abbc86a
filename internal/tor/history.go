package tor

// IPHistory is an ordered, deduplicated record of observed exit addresses.
// It is informational only; nothing in the session depends on it for
// correctness. IPHistory is not safe for concurrent use; Session guards it.
type IPHistory struct {
	ips  []string
	seen map[string]struct{}
}

// NewIPHistory returns an empty history.
func NewIPHistory() *IPHistory {
	return &IPHistory{seen: make(map[string]struct{})}
}

// Add records ip if it has not been seen before. Empty strings are ignored.
// It reports whether ip was newly added.
func (h *IPHistory) Add(ip string) bool {
	if ip == "" {
		return false
	}
	if _, ok := h.seen[ip]; ok {
		return false
	}
	h.seen[ip] = struct{}{}
	h.ips = append(h.ips, ip)
	return true
}

// Contains reports whether ip was observed.
func (h *IPHistory) Contains(ip string) bool {
	_, ok := h.seen[ip]
	return ok
}

// Len returns the number of distinct addresses.
func (h *IPHistory) Len() int {
	return len(h.ips)
}

// List returns a copy of the addresses in first-observed order.
func (h *IPHistory) List() []string {
	out := make([]string, len(h.ips))
	copy(out, h.ips)
	return out
}

// Reset forgets every address.
func (h *IPHistory) Reset() {
	h.ips = nil
	h.seen = make(map[string]struct{})
}
