package negotiation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chasef07/marketplace/pkg/models"
)

// MemStore is the in-memory reference implementation of Store. It defines the
// semantics the Postgres store must match and backs the engine tests.
type MemStore struct {
	mu           sync.Mutex
	negotiations map[string]*models.Negotiation
	offers       map[string][]models.Offer
	decisions    map[string][]models.AgentDecision
	items        map[string]*models.Item
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		negotiations: make(map[string]*models.Negotiation),
		offers:       make(map[string][]models.Offer),
		decisions:    make(map[string][]models.AgentDecision),
		items:        make(map[string]*models.Item),
	}
}

// PutItem seeds an item. Listing creation itself is outside the engine.
func (s *MemStore) PutItem(item *models.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	if cp.Status == "" {
		cp.Status = models.ItemStatusListed
	}
	s.items[cp.ID] = &cp
}

func (s *MemStore) CreateNegotiation(_ context.Context, n *models.Negotiation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.negotiations {
		if existing.ItemID == n.ItemID && existing.BuyerID == n.BuyerID && existing.Status.IsOpen() {
			return ErrAlreadyNegotiating
		}
	}

	now := time.Now().UTC()
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Status == "" {
		n.Status = models.NegotiationStatusActive
	}
	n.Version = 1
	n.RoundNumber = 0
	n.CreatedAt = now
	n.UpdatedAt = now

	cp := *n
	s.negotiations[n.ID] = &cp
	return nil
}

func (s *MemStore) GetNegotiation(_ context.Context, id string) (*models.Negotiation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.negotiations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (s *MemStore) FindOpenNegotiation(_ context.Context, itemID, buyerID string) (*models.Negotiation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.negotiations {
		if n.ItemID == itemID && n.BuyerID == buyerID && n.Status.IsOpen() {
			cp := *n
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemStore) ListNegotiationsByUser(_ context.Context, userID string) ([]models.Negotiation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Negotiation
	for _, n := range s.negotiations {
		if n.BuyerID == userID || n.SellerID == userID {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) ListOpenNegotiationsByItem(_ context.Context, itemID string) ([]models.Negotiation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Negotiation
	for _, n := range s.negotiations {
		if n.ItemID == itemID && n.Status.IsOpen() {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) GetOffers(_ context.Context, negotiationID string) ([]models.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.negotiations[negotiationID]; !ok {
		return nil, ErrNotFound
	}
	out := make([]models.Offer, len(s.offers[negotiationID]))
	copy(out, s.offers[negotiationID])
	return out, nil
}

func (s *MemStore) AppendOffer(_ context.Context, negotiationID string, expectedVersion int, offer *models.Offer) (*models.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.negotiations[negotiationID]
	if !ok {
		return nil, ErrNotFound
	}
	if n.Status != models.NegotiationStatusActive {
		return nil, ErrNotActive
	}
	if n.Version != expectedVersion {
		return nil, ErrConflict
	}

	now := time.Now().UTC()
	// Offer timestamps within one negotiation are strictly increasing so the
	// resolver's last-offer comparison is never ambiguous.
	if existing := s.offers[negotiationID]; len(existing) > 0 {
		if last := existing[len(existing)-1].CreatedAt; !now.After(last) {
			now = last.Add(time.Microsecond)
		}
	}

	n.RoundNumber++
	n.Version++
	n.UpdatedAt = now

	cp := *offer
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	cp.NegotiationID = negotiationID
	cp.RoundNumber = n.RoundNumber
	cp.IsCounterOffer = n.RoundNumber > 1
	cp.CreatedAt = now

	s.offers[negotiationID] = append(s.offers[negotiationID], cp)
	out := cp
	return &out, nil
}

func (s *MemStore) UpdateNegotiationStatus(_ context.Context, id string, expectedVersion int, newStatus models.NegotiationStatus, finalPrice *float64) (*models.Negotiation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.negotiations[id]
	if !ok {
		return nil, ErrNotFound
	}
	if n.Version != expectedVersion {
		return nil, ErrConflict
	}

	n.Status = newStatus
	if finalPrice != nil {
		price := *finalPrice
		n.FinalPrice = &price
	}
	n.Version++
	n.UpdatedAt = time.Now().UTC()

	cp := *n
	return &cp, nil
}

func (s *MemStore) CreateAgentDecision(_ context.Context, d *models.AgentDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.negotiations[d.NegotiationID]; !ok {
		return ErrNotFound
	}
	cp := *d
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.decisions[d.NegotiationID] = append(s.decisions[d.NegotiationID], cp)
	return nil
}

// AgentDecisions returns the recorded decisions for a negotiation. Test helper.
func (s *MemStore) AgentDecisions(negotiationID string) []models.AgentDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AgentDecision, len(s.decisions[negotiationID]))
	copy(out, s.decisions[negotiationID])
	return out
}

func (s *MemStore) GetItem(_ context.Context, itemID string) (*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (s *MemStore) UpdateItemStatus(_ context.Context, itemID string, status models.ItemStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return ErrNotFound
	}
	item.Status = status
	item.UpdatedAt = time.Now().UTC()
	return nil
}
