package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// OrderIntentSchemaVersion is the current wire version for serialized
// order intents. Bump it whenever the payload shape changes and add a
// decode branch for the old version.
const OrderIntentSchemaVersion = 1

// ErrIntentSchema indicates a serialized intent could not be decoded.
var ErrIntentSchema = errors.New("domain: unsupported order intent payload")

// CustomerInput is the contact block of an order intent.
type CustomerInput struct {
	Name  string
	Email string
	Phone string
}

// OrderIntent is the full booking request captured at intake time. For the
// provider flow it is serialized into the pending order and replayed at
// fulfillment, so it must round-trip without loss.
type OrderIntent struct {
	OrgID           string
	ProviderOrgID   string
	Customer        CustomerInput
	Title           string
	ScheduledAt     time.Time
	DurationMinutes int
	AssigneeID      string
	Address         Address
	MediaTypes      []string
	PackageKey      string
	Notes           string
}

type intentEnvelope struct {
	SchemaVersion int          `json:"schemaVersion"`
	Intent        intentWireV1 `json:"intent"`
}

type intentWireV1 struct {
	OrgID           string         `json:"orgId"`
	ProviderOrgID   string         `json:"providerOrgId,omitempty"`
	Customer        customerWireV1 `json:"customer"`
	Title           string         `json:"title"`
	ScheduledAt     time.Time      `json:"scheduledAt"`
	DurationMinutes int            `json:"durationMinutes"`
	AssigneeID      string         `json:"assigneeId,omitempty"`
	Address         addressWireV1  `json:"address"`
	MediaTypes      []string       `json:"mediaTypes,omitempty"`
	PackageKey      string         `json:"packageKey,omitempty"`
	Notes           string         `json:"notes,omitempty"`
}

type customerWireV1 struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type addressWireV1 struct {
	Line1      string   `json:"line1"`
	Line2      string   `json:"line2,omitempty"`
	City       string   `json:"city,omitempty"`
	Region     string   `json:"region,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Country    string   `json:"country,omitempty"`
	Formatted  string   `json:"formatted,omitempty"`
	PlaceID    string   `json:"placeId,omitempty"`
	Lat        *float64 `json:"lat,omitempty"`
	Lng        *float64 `json:"lng,omitempty"`
}

// EncodeOrderIntent serializes an intent under the current schema version.
func EncodeOrderIntent(intent OrderIntent) ([]byte, error) {
	env := intentEnvelope{
		SchemaVersion: OrderIntentSchemaVersion,
		Intent: intentWireV1{
			OrgID:         intent.OrgID,
			ProviderOrgID: intent.ProviderOrgID,
			Customer: customerWireV1{
				Name:  intent.Customer.Name,
				Email: intent.Customer.Email,
				Phone: intent.Customer.Phone,
			},
			Title:           intent.Title,
			ScheduledAt:     intent.ScheduledAt.UTC(),
			DurationMinutes: intent.DurationMinutes,
			AssigneeID:      intent.AssigneeID,
			Address: addressWireV1{
				Line1:      intent.Address.Line1,
				Line2:      intent.Address.Line2,
				City:       intent.Address.City,
				Region:     intent.Address.Region,
				PostalCode: intent.Address.PostalCode,
				Country:    intent.Address.Country,
				Formatted:  intent.Address.Formatted,
				PlaceID:    intent.Address.PlaceID,
				Lat:        intent.Address.Lat,
				Lng:        intent.Address.Lng,
			},
			MediaTypes: intent.MediaTypes,
			PackageKey: intent.PackageKey,
			Notes:      intent.Notes,
		},
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode order intent: %w", err)
	}
	return payload, nil
}

// DecodeOrderIntent deserializes a payload written by EncodeOrderIntent.
// Unknown schema versions and structurally empty intents are rejected so a
// corrupted pending order can never fulfill into a blank project.
func DecodeOrderIntent(payload []byte) (OrderIntent, error) {
	if len(payload) == 0 {
		return OrderIntent{}, fmt.Errorf("%w: empty payload", ErrIntentSchema)
	}
	var env intentEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return OrderIntent{}, fmt.Errorf("%w: %v", ErrIntentSchema, err)
	}
	if env.SchemaVersion != OrderIntentSchemaVersion {
		return OrderIntent{}, fmt.Errorf("%w: schema version %d", ErrIntentSchema, env.SchemaVersion)
	}
	wire := env.Intent
	if wire.OrgID == "" || wire.Customer.Email == "" || wire.ScheduledAt.IsZero() {
		return OrderIntent{}, fmt.Errorf("%w: missing required fields", ErrIntentSchema)
	}
	return OrderIntent{
		OrgID:         wire.OrgID,
		ProviderOrgID: wire.ProviderOrgID,
		Customer: CustomerInput{
			Name:  wire.Customer.Name,
			Email: wire.Customer.Email,
			Phone: wire.Customer.Phone,
		},
		Title:           wire.Title,
		ScheduledAt:     wire.ScheduledAt.UTC(),
		DurationMinutes: wire.DurationMinutes,
		AssigneeID:      wire.AssigneeID,
		Address: Address{
			Line1:      wire.Address.Line1,
			Line2:      wire.Address.Line2,
			City:       wire.Address.City,
			Region:     wire.Address.Region,
			PostalCode: wire.Address.PostalCode,
			Country:    wire.Address.Country,
			Formatted:  wire.Address.Formatted,
			PlaceID:    wire.Address.PlaceID,
			Lat:        wire.Address.Lat,
			Lng:        wire.Address.Lng,
		},
		MediaTypes: wire.MediaTypes,
		PackageKey: wire.PackageKey,
		Notes:      wire.Notes,
	}, nil
}
