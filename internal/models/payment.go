package models

// Payment represents a fine payment recorded against a ticket.
type Payment struct {
	ID               UUID    `json:"id"`
	TicketID         string  `json:"ticketId"`
	PaymentReference string  `json:"paymentReference"`
	Amount           float64 `json:"amount"`
	Method           string  `json:"method"` // cash, momo, card
	Status           string  `json:"status"`
	CreatedAt        string  `json:"createdAt"`
	IsSynced         bool    `json:"isSynced"`
	SyncedAt         string  `json:"syncedAt,omitempty"`
}

// TableName returns the collection name for Payment.
func (Payment) TableName() string {
	return CollectionPayments
}
