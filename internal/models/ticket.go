package models

// Ticket represents an issued traffic ticket. Tickets are created locally
// on the officer's device and reach the central server through the sync
// queue; IsSynced and SyncedAt are owned by the sync worker and must not
// be written by callers directly.
type Ticket struct {
	ID           UUID    `json:"id"`
	TicketNumber string  `json:"ticketNumber"`
	VehicleReg   string  `json:"vehicleReg"`
	OffenceCode  string  `json:"offenceCode"`
	FineAmount   float64 `json:"fineAmount"`
	OfficerID    string  `json:"officerId"`
	StationID    string  `json:"stationId"`
	Status       string  `json:"status"`
	IssuedAt     string  `json:"issuedAt"`
	CreatedAt    string  `json:"createdAt"`
	IsSynced     bool    `json:"isSynced"`
	SyncedAt     string  `json:"syncedAt,omitempty"`
}

// TableName returns the collection name for Ticket.
func (Ticket) TableName() string {
	return CollectionTickets
}
