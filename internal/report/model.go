package report

import (
	"time"

	"github.com/nao1215/torrotate/internal/database"
)

// Rotation is the outcome of one rotate instance.
//
// UsedIPs is the session history in first-seen order and Renewed holds the
// address returned by each successful renewal, so Renewed is a subset of
// UsedIPs. Countries maps an address to the English name of the country
// tor's geoip database places it in; addresses tor could not place are
// left out.
//
// A rotation that stopped early still carries everything observed up to
// that point, with the cause in Error.
type Rotation struct {
	Instance   int               `json:"instance"`
	SocksAddr  string            `json:"socks_addr"`
	ExitNodes  string            `json:"exit_nodes,omitempty"`
	BaselineIP string            `json:"baseline_ip,omitempty"`
	Renewed    []string          `json:"renewed"`
	UsedIPs    []string          `json:"used_ips"`
	Countries  map[string]string `json:"countries,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Error      string            `json:"error,omitempty"`
}

// IPLabel returns ip followed by its country in parentheses when known,
// for example "203.0.113.2 (Germany)".
func (r *Rotation) IPLabel(ip string) string {
	if country := r.Countries[ip]; country != "" {
		return ip + " (" + country + ")"
	}
	return ip
}

// IPLabels applies IPLabel to every address in ips.
func (r *Rotation) IPLabels(ips []string) []string {
	labels := make([]string, len(ips))
	for i, ip := range ips {
		labels[i] = r.IPLabel(ip)
	}
	return labels
}

// Duration is the wall time of the rotation.
func (r *Rotation) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// History is a listing of stored observations.
type History struct {
	Observations []database.Observation `json:"observations"`
}

// DistinctIPs returns the number of different addresses in the history.
func (h *History) DistinctIPs() int {
	seen := make(map[string]struct{}, len(h.Observations))
	for _, o := range h.Observations {
		seen[o.IP] = struct{}{}
	}
	return len(seen)
}

// BySession counts observations per session label, in first-seen order.
func (h *History) BySession() ([]string, map[string]int) {
	order := make([]string, 0)
	counts := make(map[string]int)
	for _, o := range h.Observations {
		if _, ok := counts[o.Session]; !ok {
			order = append(order, o.Session)
		}
		counts[o.Session]++
	}
	return order, counts
}
