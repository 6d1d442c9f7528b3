package sync

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/mensahk/fieldcite/internal/errors"
	"github.com/mensahk/fieldcite/internal/models"
)

// TicketPayload is the wire body for ticket create/update operations.
type TicketPayload struct {
	models.Ticket
}

// PaymentPayload is the wire body for payment create/update operations.
type PaymentPayload struct {
	models.Payment
}

// PhotoUploadPayload carries the metadata for a photo upload. The image
// bytes themselves are loaded from the photos collection at dispatch
// time, not carried in the queue.
type PhotoUploadPayload struct {
	PhotoID  string `json:"photoId"`
	TicketID string `json:"ticketId"`
	Type     string `json:"type"`
	FileName string `json:"fileName,omitempty"`
}

// decodePayload parses a queue item's raw payload into the typed form
// for its entity type. Delete operations carry no payload.
func decodePayload(item *models.SyncQueueItem) (interface{}, error) {
	if item.Operation == models.OperationDelete {
		return nil, nil
	}
	if len(item.Payload) == 0 {
		return nil, apperrors.New(apperrors.ErrPayloadUndecodable,
			fmt.Sprintf("queue item %d has no payload", item.ID))
	}

	var (
		decoded interface{}
		err     error
	)
	switch item.EntityType {
	case models.EntityTicket:
		var p TicketPayload
		err = json.Unmarshal(item.Payload, &p)
		decoded = &p
	case models.EntityPayment:
		var p PaymentPayload
		err = json.Unmarshal(item.Payload, &p)
		decoded = &p
	case models.EntityPhoto:
		var p PhotoUploadPayload
		err = json.Unmarshal(item.Payload, &p)
		decoded = &p
	default:
		return nil, apperrors.New(apperrors.ErrPayloadUndecodable,
			fmt.Sprintf("unknown entity type %q", item.EntityType))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPayloadUndecodable,
			fmt.Sprintf("decode %s payload", item.EntityType), err)
	}
	return decoded, nil
}
