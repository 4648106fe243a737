// Package session implements the zenoh-pico session layer (spec.md §4.7,
// §4.8, §4.9): the per-session entity registries, inbound dispatch and
// matching, scouting, and the public put/subscribe/query API built on top
// of internal/transport.
package session

import (
	"sync"

	"github.com/zenoh-pico-go/zenohpico/internal/keyexpr"
	"github.com/zenoh-pico-go/zenohpico/internal/wire"
	"github.com/zenoh-pico-go/zenohpico/internal/zerr"
)

// SubscriberKind distinguishes a plain data subscription from a liveliness
// token subscription (spec.md §4.7 "kind ∈ {regular, liveliness}").
type SubscriberKind uint8

// Subscriber kinds.
const (
	SubscriberRegular SubscriberKind = iota
	SubscriberLiveliness
)

// Sample is the value delivered to a subscriber or reply callback.
type Sample struct {
	Key        string
	Kind       wire.SampleKind
	Payload    []byte
	Encoding   *wire.Encoding
	Timestamp  *wire.Timestamp
	Attachment []byte
}

// Subscription is one entry of the subscriptions registry (spec.md §4.7).
type Subscription struct {
	ID       uint64
	Key      keyexpr.KE
	Kind     SubscriberKind
	Callback func(Sample)
	Drop     func()
}

// Query is a query handle delivered to a matching queryable's callback
// (spec.md §4.8 "REQUEST ... invoke each matching queryable's callback
// with a query handle that remembers (peer, request_id)"). Reply and
// Finish are supplied by the dispatcher at invocation time so Queryable
// itself stays transport-agnostic.
type Query struct {
	Key           string
	Payload       []byte
	Encoding      *wire.Encoding
	Consolidation uint8
	Reply         func(Sample)
	Finish        func()
}

// Queryable is one entry of the queryables registry (spec.md §4.7).
type Queryable struct {
	ID       uint64
	Key      keyexpr.KE
	Complete bool
	Callback func(Query)
	Drop     func()
}

// PendingQuery is one entry of the pending-queries registry (spec.md
// §4.7): tracks an outstanding get() awaiting RESPONSE/RESPONSE_FINAL.
type PendingQuery struct {
	RequestID     uint64
	Key           string
	Consolidation uint8
	Callback      func(Sample, bool /* isError */)
	Drop          func()
}

// Interest is one entry of the interests registry (spec.md §4.7, §4.8,
// §9): a standing subscription to declarations matching an optional key.
type Interest struct {
	ID       uint64
	Key      *keyexpr.KE
	Flags    wire.InterestFlags
	Callback func(wire.Declaration)
	Drop     func()
}

// Token is one entry of the liveliness-token registry (spec.md §4.7),
// announced to peers as DECL_TOKEN.
type Token struct {
	ID  uint64
	Key keyexpr.KE
}

// remoteMappingKey identifies a remote key-expression mapping entry: a
// single scope in unicast (PeerID is always the zero value), per-peer in
// multicast (spec.md §4.7 "(peer, remote_id); Per-peer in multicast;
// single scope in unicast").
type remoteMappingKey struct {
	PeerID string
	ID     uint64
}

// Registry holds the five entity maps plus the two key-expression mapping
// tables, all guarded by a single inner lock (spec.md §4.7, §5 "session.inner").
// Grounded on internal/bfd/manager.go's single-mutex, multiple-map Manager
// shape, generalized from one map-pair to the session's seven maps.
type Registry struct {
	mu sync.RWMutex

	localMapping  map[uint64]string
	remoteMapping map[remoteMappingKey]string

	subscriptions map[uint64]*Subscription
	queryables    map[uint64]*Queryable
	pending       map[uint64]*PendingQuery
	interests     map[uint64]*Interest
	tokens        map[uint64]*Token

	nextLocalID    uint64
	nextEntityID   uint64
	nextRequestID  uint64
	nextInterestID uint64
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		localMapping:  make(map[uint64]string),
		remoteMapping: make(map[remoteMappingKey]string),
		subscriptions: make(map[uint64]*Subscription),
		queryables:    make(map[uint64]*Queryable),
		pending:       make(map[uint64]*PendingQuery),
		interests:     make(map[uint64]*Interest),
		tokens:        make(map[uint64]*Token),
	}
}

// NextLocalID, NextEntityID, NextRequestID, NextInterestID draw from
// monotonically increasing per-kind counters; ids are never reused within
// a session (spec.md §4.7 "Id allocation").
func (r *Registry) NextLocalID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextLocalID++
	return r.nextLocalID
}

func (r *Registry) NextEntityID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextEntityID++
	return r.nextEntityID
}

func (r *Registry) NextRequestID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextRequestID++
	return r.nextRequestID
}

func (r *Registry) NextInterestID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextInterestID++
	return r.nextInterestID
}

// DeclareLocalKeyExpr records a local_id -> suffix mapping we declared to
// peers.
func (r *Registry) DeclareLocalKeyExpr(id uint64, suffix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localMapping[id] = suffix
}

// UndeclareLocalKeyExpr removes a local mapping entry.
func (r *Registry) UndeclareLocalKeyExpr(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.localMapping, id)
}

// DeclareRemoteKeyExpr records a remote (peer, remote_id) -> suffix
// mapping (spec.md §4.8 "DECL_KEYEXPR(id, suffix) -- insert into the
// sender's remote mapping; if a duplicate id arrives, replace").
func (r *Registry) DeclareRemoteKeyExpr(peerID string, id uint64, suffix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remoteMapping[remoteMappingKey{peerID, id}] = suffix
}

// UndeclareRemoteKeyExpr removes a remote mapping entry.
func (r *Registry) UndeclareRemoteKeyExpr(peerID string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.remoteMapping, remoteMappingKey{peerID, id})
}

// ExpandLocal resolves a WireKeyExpr using the local mapping table (used
// when decoding a message we sent to ourselves is never needed, but
// ExpandRemote below is the common case; ExpandLocal exists for symmetry
// and for expanding keys in messages we're about to send from ids we
// minted).
func (r *Registry) ExpandLocal(ke wire.WireKeyExpr) (string, error) {
	if ke.ID == 0 {
		return ke.Suffix, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	prefix, ok := r.localMapping[ke.ID]
	if !ok {
		return "", zerr.ErrKeyexprUnknown
	}
	return prefix + ke.Suffix, nil
}

// ExpandRemote resolves a WireKeyExpr using peerID's remote mapping table
// (spec.md §4.7 "Key expansion ... concatenating the stored prefix (if id
// is non-zero) with the suffix. Failure (keyexpr_unknown) when the id is
// not present").
func (r *Registry) ExpandRemote(peerID string, ke wire.WireKeyExpr) (string, error) {
	if ke.ID == 0 {
		return ke.Suffix, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	prefix, ok := r.remoteMapping[remoteMappingKey{peerID, ke.ID}]
	if !ok {
		return "", zerr.ErrKeyexprUnknown
	}
	return prefix + ke.Suffix, nil
}

// AddSubscription inserts s, keyed by s.ID (caller must have drawn it from
// NextLocalID).
func (r *Registry) AddSubscription(s *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscriptions[s.ID] = s
}

// RemoveSubscription removes and returns the subscription, or nil if
// absent.
func (r *Registry) RemoveSubscription(id uint64) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.subscriptions[id]
	delete(r.subscriptions, id)
	return s
}

// MatchingSubscriptions returns every subscription whose expanded key
// intersects key (spec.md §4.8 "PUSH ... walk the subscription table, and
// for each subscription whose expanded key intersects the push key,
// invoke its callback"). The snapshot is taken under the read lock and
// returned for the caller to invoke outside any lock, per spec.md §5's
// "callbacks are invoked with ... the inner lock released" rule.
func (r *Registry) MatchingSubscriptions(key keyexpr.KE) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Subscription
	for _, s := range r.subscriptions {
		if keyexpr.Intersects(s.Key, key) {
			out = append(out, s)
		}
	}
	return out
}

// AllSubscriptions returns a snapshot of every local subscription, for
// answering an inbound INTEREST's CURRENT flag (spec.md §4.8, §9).
func (r *Registry) AllSubscriptions() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscription, 0, len(r.subscriptions))
	for _, s := range r.subscriptions {
		out = append(out, s)
	}
	return out
}

// AddQueryable inserts q, keyed by q.ID.
func (r *Registry) AddQueryable(q *Queryable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queryables[q.ID] = q
}

// RemoveQueryable removes and returns the queryable, or nil if absent.
func (r *Registry) RemoveQueryable(id uint64) *Queryable {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.queryables[id]
	delete(r.queryables, id)
	return q
}

// MatchingQueryables returns every queryable whose key intersects key
// (spec.md §4.8 "REQUEST(QUERY) ... walk queryables, invoke each
// matching queryable's callback").
func (r *Registry) MatchingQueryables(key keyexpr.KE) []*Queryable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Queryable
	for _, q := range r.queryables {
		if keyexpr.Intersects(q.Key, key) {
			out = append(out, q)
		}
	}
	return out
}

// AllQueryables returns a snapshot of every local queryable, for answering
// an inbound INTEREST's CURRENT flag (spec.md §4.8, §9).
func (r *Registry) AllQueryables() []*Queryable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Queryable, 0, len(r.queryables))
	for _, q := range r.queryables {
		out = append(out, q)
	}
	return out
}

// AddPendingQuery inserts p, keyed by p.RequestID.
func (r *Registry) AddPendingQuery(p *PendingQuery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[p.RequestID] = p
}

// TakePendingQuery removes and returns the pending query by request id,
// used on RESPONSE_FINAL (spec.md §4.8 "on FINAL, invoke drop handler and
// erase the entry").
func (r *Registry) TakePendingQuery(requestID uint64) *PendingQuery {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.pending[requestID]
	delete(r.pending, requestID)
	return p
}

// LookupPendingQuery returns the pending query without removing it (used
// on a non-final RESPONSE, which may arrive multiple times before FINAL).
func (r *Registry) LookupPendingQuery(requestID uint64) *PendingQuery {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pending[requestID]
}

// AllPendingQueries returns a snapshot of every outstanding pending query,
// for Close()'s "cancels all outstanding pending queries" rule (spec.md
// §5).
func (r *Registry) AllPendingQueries() []*PendingQuery {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*PendingQuery, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, p)
	}
	return out
}

// AddInterest inserts it, keyed by it.ID.
func (r *Registry) AddInterest(it *Interest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interests[it.ID] = it
}

// RemoveInterest removes and returns the interest, or nil if absent.
func (r *Registry) RemoveInterest(id uint64) *Interest {
	r.mu.Lock()
	defer r.mu.Unlock()
	it := r.interests[id]
	delete(r.interests, id)
	return it
}

// LookupInterest returns the interest by id without removing it, used to
// route a DECLARE that carries an interest_id (spec.md §4.8).
func (r *Registry) LookupInterest(id uint64) *Interest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.interests[id]
}

// interestsSnapshot returns every registered interest, for the dispatcher
// to walk when a declaration needs to reach every interest matching its
// kind rather than one named by id.
func (r *Registry) interestsSnapshot() []*Interest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Interest, 0, len(r.interests))
	for _, it := range r.interests {
		out = append(out, it)
	}
	return out
}

// AddToken inserts t, keyed by t.ID.
func (r *Registry) AddToken(t *Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[t.ID] = t
}

// RemoveToken removes and returns the token, or nil if absent.
func (r *Registry) RemoveToken(id uint64) *Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.tokens[id]
	delete(r.tokens, id)
	return t
}

// AllTokens returns a snapshot of every local liveliness token, for
// answering an inbound INTEREST's CURRENT flag (spec.md §4.8, §9).
func (r *Registry) AllTokens() []*Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t)
	}
	return out
}

// DropPeer removes every remote key-expression mapping entry attributed to
// peerID (spec.md §4.6 eviction).
func (r *Registry) DropPeer(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.remoteMapping {
		if k.PeerID == peerID {
			delete(r.remoteMapping, k)
		}
	}
}

// Stats is a point-in-time snapshot of registry entity counts, used by the
// introspection HTTP handler (internal/server).
type Stats struct {
	Subscriptions int `json:"subscriptions"`
	Queryables    int `json:"queryables"`
	PendingQuery  int `json:"pending_queries"`
	Interests     int `json:"interests"`
	Tokens        int `json:"tokens"`
}

// Stats returns the current entity counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Subscriptions: len(r.subscriptions),
		Queryables:    len(r.queryables),
		PendingQuery:  len(r.pending),
		Interests:     len(r.interests),
		Tokens:        len(r.tokens),
	}
}
