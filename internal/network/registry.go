package network

import (
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/cipherkeep/cipherkeep/internal/domain"
)

// DefaultPeerTTL is how long a peer survives without being seen
const DefaultPeerTTL = 10 * time.Second

// ChangeFunc receives a snapshot of the registry after an observable change
type ChangeFunc func(peers []domain.PeerRecord)

// Registry tracks LAN peers from presence announcements and subnet probes.
//
// Records discovered only by probing are keyed by their IP address. A presence announcement
// from the same address replaces such a record with one keyed by the announced identity.
type Registry struct {
	mu       sync.Mutex
	clock    clock.Clock
	ttl      time.Duration
	selfID   string
	peers    map[string]*domain.PeerRecord
	onChange ChangeFunc
}

// NewRegistry creates an empty registry. onChange may be nil.
func NewRegistry(selfID string, ttl time.Duration, clk clock.Clock, onChange ChangeFunc) *Registry {
	if ttl <= 0 {
		ttl = DefaultPeerTTL
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		clock:    clk,
		ttl:      ttl,
		selfID:   selfID,
		peers:    make(map[string]*domain.PeerRecord),
		onChange: onChange,
	}
}

// IsAddressID reports whether id belongs to a probe-only record
func IsAddressID(id string) bool {
	_, err := netip.ParseAddr(id)
	return err == nil
}

// ObservePresence merges a presence announcement received now. It reports whether the
// observable peer state changed.
func (r *Registry) ObservePresence(id, name, ip string) bool {
	if id == "" || id == r.selfID || IsAddressID(id) {
		return false
	}

	r.mu.Lock()
	now := r.clock.Now()
	changed := false

	if ip != "" {
		if _, ok := r.peers[ip]; ok {
			delete(r.peers, ip)
			changed = true
		}
	}

	rec, ok := r.peers[id]
	if !ok {
		r.peers[id] = &domain.PeerRecord{ID: id, Name: name, IP: ip, LastSeen: now, HasApp: true}
		changed = true
	} else if !now.Before(rec.LastSeen) {
		rec.LastSeen = now
		if name != "" && rec.Name != name {
			rec.Name = name
			changed = true
		}
		if ip != "" && rec.IP != ip {
			rec.IP = ip
			changed = true
		}
		if !rec.HasApp {
			rec.HasApp = true
			changed = true
		}
	}

	return r.finish(changed)
}

// ObserveProbe merges the result of probing ip. It reports whether a record was created
// or changed. A probe never clears hasApp and never creates a record for an address
// that an announced session owns.
func (r *Registry) ObserveProbe(ip string, hasApp bool) bool {
	if ip == "" {
		return false
	}

	r.mu.Lock()
	now := r.clock.Now()
	changed := false

	// Only the single session owning ip is refreshed, and only when its app port answered
	if owners := r.ownersOf(ip); len(owners) > 0 {
		if hasApp && len(owners) == 1 && now.After(owners[0].LastSeen) {
			owners[0].LastSeen = now
		}
		return r.finish(false)
	}

	rec, ok := r.peers[ip]
	if !ok {
		r.peers[ip] = &domain.PeerRecord{ID: ip, Name: ip, IP: ip, LastSeen: now, HasApp: hasApp}
		return r.finish(true)
	}
	if now.After(rec.LastSeen) {
		rec.LastSeen = now
	}
	if hasApp && !rec.HasApp {
		rec.HasApp = true
		changed = true
	}
	return r.finish(changed)
}

// ObserveName sets a display name for a probe-only record, typically from reverse DNS
func (r *Registry) ObserveName(ip, name string) bool {
	r.mu.Lock()
	rec, ok := r.peers[ip]
	changed := ok && name != "" && rec.Name != name
	if changed {
		rec.Name = name
	}
	return r.finish(changed)
}

// ownersOf returns the identity-keyed records announcing ip. Caller holds r.mu.
func (r *Registry) ownersOf(ip string) []*domain.PeerRecord {
	var owners []*domain.PeerRecord
	for id, rec := range r.peers {
		if id != ip && rec.IP == ip {
			owners = append(owners, rec)
		}
	}
	return owners
}

// Sweep evicts every record not seen for longer than the TTL and returns how many were removed
func (r *Registry) Sweep() int {
	r.mu.Lock()
	now := r.clock.Now()
	evicted := 0
	for id, rec := range r.peers {
		if now.Sub(rec.LastSeen) > r.ttl {
			delete(r.peers, id)
			evicted++
		}
	}
	r.finish(evicted > 0)
	return evicted
}

// finish releases r.mu and, if changed, notifies with a fresh snapshot
func (r *Registry) finish(changed bool) bool {
	var snapshot []domain.PeerRecord
	if changed && r.onChange != nil {
		snapshot = r.snapshotLocked()
	}
	r.mu.Unlock()
	if snapshot != nil {
		r.onChange(snapshot)
	}
	return changed
}

// Peers returns the live records ordered by name
func (r *Registry) Peers() []domain.PeerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []domain.PeerRecord {
	now := r.clock.Now()
	out := make([]domain.PeerRecord, 0, len(r.peers))
	for _, rec := range r.peers {
		if now.Sub(rec.LastSeen) > r.ttl {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Lookup returns a live record by id
func (r *Registry) Lookup(id string) (domain.PeerRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.peers[id]
	if !ok || r.clock.Now().Sub(rec.LastSeen) > r.ttl {
		return domain.PeerRecord{}, false
	}
	return *rec, true
}

// Addresses returns the distinct IPs of every known peer
func (r *Registry) Addresses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{}, len(r.peers))
	out := make([]string, 0, len(r.peers))
	for _, rec := range r.peers {
		if rec.IP == "" {
			continue
		}
		if _, dup := seen[rec.IP]; dup {
			continue
		}
		seen[rec.IP] = struct{}{}
		out = append(out, rec.IP)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of stored records, including ones awaiting eviction
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}
