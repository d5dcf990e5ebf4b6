package models

import "time"

// NegotiationStatus is the lifecycle state of a negotiation session.
type NegotiationStatus string

const (
	StatusPending   NegotiationStatus = "pending"
	StatusCountered NegotiationStatus = "countered"
	StatusAgreed    NegotiationStatus = "agreed"
	StatusRejected  NegotiationStatus = "rejected"
	StatusCompleted NegotiationStatus = "completed"
)

// Open reports whether the session still accepts offers.
func (s NegotiationStatus) Open() bool {
	return s == StatusPending || s == StatusCountered
}

// Terminal reports whether the session can never change again.
func (s NegotiationStatus) Terminal() bool {
	return s == StatusRejected || s == StatusCompleted
}

// NegotiationMessage is one entry in a session's append-only message log.
// ProposedPrice is set for propose/counter actions and nil for acceptance
// notes and plain chat messages.
type NegotiationMessage struct {
	ID            string    `bson:"id" json:"id"`
	SessionID     string    `bson:"sessionId" json:"sessionId"`
	SenderID      string    `bson:"senderId" json:"senderId"`
	Body          string    `bson:"body" json:"body"`
	ProposedPrice *float64  `bson:"proposedPrice,omitempty" json:"proposedPrice,omitempty"`
	CreatedAt     time.Time `bson:"createdAt" json:"createdAt"`
}

// NegotiationSession is one bargaining thread between a client and a provider
// over one service. Messages are embedded so a message append and the session
// fields it implies always commit as a single document write.
type NegotiationSession struct {
	ID           string               `bson:"id" json:"id"`
	ServiceID    string               `bson:"serviceId" json:"serviceId"`
	ProviderID   string               `bson:"providerId" json:"providerId"`
	ClientID     string               `bson:"clientId" json:"clientId"`
	InitialPrice float64              `bson:"initialPrice" json:"initialPrice"`
	CurrentPrice float64              `bson:"currentPrice" json:"currentPrice"`
	FinalPrice   *float64             `bson:"finalPrice,omitempty" json:"finalPrice,omitempty"`
	Status       NegotiationStatus    `bson:"status" json:"status"`
	Version      int64                `bson:"version" json:"version"`
	PaymentRef   string               `bson:"paymentRef,omitempty" json:"paymentRef,omitempty"`
	Messages     []NegotiationMessage `bson:"messages" json:"messages"`
	CreatedAt    time.Time            `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time            `bson:"updatedAt" json:"updatedAt"`
}

// IsParticipant reports whether id is the session's provider or client.
func (s *NegotiationSession) IsParticipant(id string) bool {
	return id != "" && (id == s.ProviderID || id == s.ClientID)
}

// OtherParty returns the counterpart of the given participant.
func (s *NegotiationSession) OtherParty(id string) string {
	if id == s.ProviderID {
		return s.ClientID
	}
	return s.ProviderID
}

// LastOffer returns the most recent priced message, or nil when no priced
// offer has been made.
func (s *NegotiationSession) LastOffer() *NegotiationMessage {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].ProposedPrice != nil {
			return &s.Messages[i]
		}
	}
	return nil
}

// LastOfferBy returns the sender of the most recent priced message, or ""
// when no priced offer has been made.
func (s *NegotiationSession) LastOfferBy() string {
	if offer := s.LastOffer(); offer != nil {
		return offer.SenderID
	}
	return ""
}

// Clone returns a deep copy safe to mutate independently.
func (s *NegotiationSession) Clone() *NegotiationSession {
	cp := *s
	if s.FinalPrice != nil {
		fp := *s.FinalPrice
		cp.FinalPrice = &fp
	}
	cp.Messages = make([]NegotiationMessage, len(s.Messages))
	copy(cp.Messages, s.Messages)
	for i := range cp.Messages {
		if cp.Messages[i].ProposedPrice != nil {
			pp := *cp.Messages[i].ProposedPrice
			cp.Messages[i].ProposedPrice = &pp
		}
	}
	return &cp
}

// NegotiationEvent is one change-feed entry. Snapshot carries the full new
// state; Version duplicates Snapshot.Version so gap detection does not need
// to decode the body first.
type NegotiationEvent struct {
	SessionID string             `json:"sessionId"`
	Version   int64              `json:"version"`
	Snapshot  NegotiationSession `json:"snapshot"`
}
