package ws

import (
	"sync"
	"time"
)

// Claim records which user currently holds a customer in a tenant.
type Claim struct {
	KundeID   int64
	UserID    int64
	UserName  string
	Initials  string
	SessionID string
	ClaimedAt time.Time
}

func (c Claim) data() claimData {
	return claimData{
		KundeID:   c.KundeID,
		UserID:    c.UserID,
		UserName:  c.UserName,
		Initials:  c.Initials,
		ClaimedAt: c.ClaimedAt,
	}
}

// Presence tracks customer claims per tenant. Claims are advisory UI
// state: the last writer wins, and a claim never blocks data access.
type Presence struct {
	mu     sync.Mutex
	claims map[int64]map[int64]Claim
}

func NewPresence() *Presence {
	return &Presence{claims: make(map[int64]map[int64]Claim)}
}

// Claim records that the user holds the customer. A claim by another
// user takes the customer over. An identical re-claim by the current
// holder is a no-op and reports changed=false so the caller can skip
// the broadcast; a re-claim under a new name keeps the original claim
// time. The returned claim is what observers should render.
func (p *Presence) Claim(orgID int64, claim Claim) (Claim, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tenant, ok := p.claims[orgID]
	if !ok {
		tenant = make(map[int64]Claim)
		p.claims[orgID] = tenant
	}
	if existing, held := tenant[claim.KundeID]; held && existing.UserID == claim.UserID {
		claim.ClaimedAt = existing.ClaimedAt
		if existing.UserName == claim.UserName {
			return existing, false
		}
	}
	tenant[claim.KundeID] = claim
	return claim, true
}

// Release drops the claim on a customer. Only the holding user may
// release; anyone else gets ErrNotClaimOwner. Releasing an unclaimed
// customer is a no-op.
func (p *Presence) Release(orgID, kundeID, userID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	tenant, ok := p.claims[orgID]
	if !ok {
		return nil
	}
	claim, held := tenant[kundeID]
	if !held {
		return nil
	}
	if claim.UserID != userID {
		return ErrNotClaimOwner
	}
	delete(tenant, kundeID)
	if len(tenant) == 0 {
		delete(p.claims, orgID)
	}
	return nil
}

// ReleaseAll drops every claim the user holds in the tenant and returns
// the released customer IDs. Used on disconnect.
func (p *Presence) ReleaseAll(orgID, userID int64) []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	tenant, ok := p.claims[orgID]
	if !ok {
		return nil
	}
	var released []int64
	for kundeID, claim := range tenant {
		if claim.UserID == userID {
			released = append(released, kundeID)
			delete(tenant, kundeID)
		}
	}
	if len(tenant) == 0 {
		delete(p.claims, orgID)
	}
	return released
}

// Snapshot returns the current claims for a tenant, for the connected
// handshake message.
func (p *Presence) Snapshot(orgID int64) []Claim {
	p.mu.Lock()
	defer p.mu.Unlock()

	tenant := p.claims[orgID]
	out := make([]Claim, 0, len(tenant))
	for _, claim := range tenant {
		out = append(out, claim)
	}
	return out
}
