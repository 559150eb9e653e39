package models

import (
	"fmt"
	"time"
)

// Kind distinguishes ride requests from food orders.
type Kind string

const (
	KindRide Kind = "ride"
	KindFood Kind = "food_order"
)

func (k Kind) Valid() bool { return k == KindRide || k == KindFood }

// Status is the canonical lifecycle vocabulary. Transitions between
// statuses are owned by the lifecycle machine; nothing else writes them.
type Status string

const (
	StatusRequested  Status = "requested"
	StatusOffered    Status = "offered"
	StatusAccepted   Status = "accepted"
	StatusArrived    Status = "arrived"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusExpired
}

// LineItem is one entry of a food order.
type LineItem struct {
	Name  string `json:"name"`
	Qty   int    `json:"qty"`
	Price int64  `json:"price"`
}

// Terms is the kind-specific payload of a request. The core validates
// structure only; the fields are otherwise opaque to matching.
type Terms struct {
	// ride
	Origin      string `json:"origin,omitempty"`
	Destination string `json:"destination,omitempty"`
	VehicleType string `json:"vehicle_type,omitempty"` // moto, carro, camioneta
	OfferPrice  int64  `json:"offer_price,omitempty"`

	// food
	RestaurantID string     `json:"restaurant_id,omitempty"`
	Items        []LineItem `json:"items,omitempty"`
	TotalAmount  int64      `json:"total_amount,omitempty"`
}

// Validate performs the structural checks required before a request may
// be persisted.
func (t Terms) Validate(kind Kind) error {
	switch kind {
	case KindRide:
		if t.Origin == "" || t.Destination == "" {
			return fmt.Errorf("%w: ride needs origin and destination", ErrInvalidTerms)
		}
	case KindFood:
		if len(t.Items) == 0 {
			return fmt.Errorf("%w: order needs at least one line item", ErrInvalidTerms)
		}
		if t.RestaurantID == "" {
			return fmt.Errorf("%w: order needs a restaurant", ErrInvalidTerms)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTerms, kind)
	}
	return nil
}

// MatchTag is the capability tag providers must carry to be eligible:
// the vehicle type for rides, the restaurant id for food orders.
func (t Terms) MatchTag(kind Kind) string {
	if kind == KindFood {
		return t.RestaurantID
	}
	return t.VehicleType
}

// Amount is what the payment collaborator is asked to charge once the
// request completes.
func (t Terms) Amount(kind Kind) int64 {
	if kind == KindFood {
		return t.TotalAmount
	}
	return t.OfferPrice
}

// Request is the central entity. Every state-affecting write bumps
// Version through the store's compare-and-swap; Version therefore
// totally orders all committed states of a single request.
type Request struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	RequesterID    string    `json:"requester_id"`
	ProviderID     string    `json:"provider_id,omitempty"` // set exactly once, on acceptance
	Status         Status    `json:"status"`
	CancelledBy    string    `json:"cancelled_by,omitempty"`
	Rebroadcasts   int       `json:"rebroadcasts"`
	OfferExpiresAt time.Time `json:"offer_expires_at"`
	Terms          Terms     `json:"terms"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Provider is an availability record, owned by the provider's heartbeat.
// The matching core only reads it.
type Provider struct {
	ID           string    `json:"id"`
	Online       bool      `json:"online"`
	Capabilities []string  `json:"capabilities"`
	LastSeen     time.Time `json:"last_seen"`
}

// Has reports whether the provider carries the given capability tag.
func (p Provider) Has(tag string) bool {
	for _, c := range p.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// Event is the fan-out payload for one committed state change. It
// carries the full current status plus the committed version, so the
// channel is a last-value-wins stream: consumers apply an event only if
// its version exceeds the last one they applied.
type Event struct {
	RequestID  string    `json:"request_id"`
	Kind       Kind      `json:"kind"`
	Status     Status    `json:"status"`
	Version    int64     `json:"version"`
	ProviderID string    `json:"provider_id,omitempty"`
	Note       string    `json:"note,omitempty"`
	At         time.Time `json:"at"`
}
