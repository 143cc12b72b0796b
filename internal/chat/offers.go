package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"chat-engine/internal/apperr"
	"chat-engine/internal/models"
)

const (
	offerMaxDigits     = 10
	offerDecimalPlaces = 2
)

// maxOfferAmount is the first value that needs more than offerMaxDigits digits.
var maxOfferAmount = decimal.New(1, offerMaxDigits-offerDecimalPlaces)

// OfferInput is a price offer on the conversation's item.
type OfferInput struct {
	ConversationID int64  `json:"conversation_id"`
	SenderID       int64  `json:"-"`
	Amount         string `json:"offer_amount" validate:"required"`
	Note           string `json:"message" validate:"max=500"`
}

// MeetupInput proposes a place and time to meet.
type MeetupInput struct {
	ConversationID int64     `json:"conversation_id"`
	SenderID       int64     `json:"-"`
	Location       string    `json:"location" validate:"required,max=200"`
	SuggestedTime  time.Time `json:"suggested_time"`
	Note           string    `json:"message" validate:"max=500"`
}

// ParseOfferAmount parses a positive amount with at most 10 digits, 2 of them decimal.
func ParseOfferAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, apperr.Validation("offer_amount must be a decimal number")
	}
	if !amount.IsPositive() {
		return decimal.Decimal{}, apperr.Validation("offer_amount must be greater than 0")
	}
	if !amount.Equal(amount.Truncate(offerDecimalPlaces)) {
		return decimal.Decimal{}, apperr.Validation(fmt.Sprintf("offer_amount allows at most %d decimal places", offerDecimalPlaces))
	}
	if amount.GreaterThanOrEqual(maxOfferAmount) {
		return decimal.Decimal{}, apperr.Validation(fmt.Sprintf("offer_amount allows at most %d digits", offerMaxDigits))
	}
	return amount, nil
}

// SendOffer sends a price_offer message. The amount is kept as an exact string in metadata.
func (s *Service) SendOffer(ctx context.Context, in OfferInput) (models.Message, error) {
	in.Note = strings.TrimSpace(in.Note)
	if err := s.validate.Struct(in); err != nil {
		return models.Message{}, validationErr(err)
	}
	amount, err := ParseOfferAmount(in.Amount)
	if err != nil {
		return models.Message{}, err
	}

	formatted := amount.StringFixed(offerDecimalPlaces)
	content := in.Note
	if content == "" {
		content = fmt.Sprintf("I'd like to offer R%s for this item.", formatted)
	}
	return s.Send(ctx, SendInput{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Type:           models.MessageTypePriceOffer,
		Content:        content,
		Metadata:       models.Metadata{"offer_amount": formatted},
	})
}

// SendMeetup sends a meeting_request message.
func (s *Service) SendMeetup(ctx context.Context, in MeetupInput) (models.Message, error) {
	in.Location = strings.TrimSpace(in.Location)
	in.Note = strings.TrimSpace(in.Note)
	if err := s.validate.Struct(in); err != nil {
		return models.Message{}, validationErr(err)
	}
	if in.SuggestedTime.IsZero() {
		return models.Message{}, apperr.Validation("suggested_time is required")
	}

	content := in.Note
	if content == "" {
		content = "Let's meet at " + in.Location
	}
	return s.Send(ctx, SendInput{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Type:           models.MessageTypeMeetingRequest,
		Content:        content,
		Metadata: models.Metadata{
			"location":       in.Location,
			"suggested_time": in.SuggestedTime.UTC().Format(time.RFC3339),
		},
	})
}
