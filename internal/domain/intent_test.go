package domain

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

func sampleIntent() OrderIntent {
	lat := 49.2827
	lng := -123.1207
	return OrderIntent{
		OrgID:         "org_provider",
		ProviderOrgID: "org_provider",
		Customer: CustomerInput{
			Name:  "Avery Quinn",
			Email: "avery@realty.test",
			Phone: "+16045550101",
		},
		Title:           "88 Seaside Drive shoot",
		ScheduledAt:     time.Date(2025, time.June, 10, 17, 0, 0, 0, time.UTC),
		DurationMinutes: 90,
		AssigneeID:      "user-shooter",
		Address: Address{
			Line1:      "88 Seaside Drive",
			City:       "Vancouver",
			Region:     "BC",
			PostalCode: "V6B 1A1",
			Country:    "CA",
			Formatted:  "88 Seaside Drive, Vancouver, BC V6B 1A1, Canada",
			PlaceID:    "place-88",
			Lat:        &lat,
			Lng:        &lng,
		},
		MediaTypes: []string{"photos", "video", "floorplan"},
		PackageKey: "standard",
		Notes:      "gate code 4471",
	}
}

func TestOrderIntentRoundTrip(t *testing.T) {
	intent := sampleIntent()

	payload, err := EncodeOrderIntent(intent)
	if err != nil {
		t.Fatalf("EncodeOrderIntent: %v", err)
	}

	var env map[string]any
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	if version, ok := env["schemaVersion"].(float64); !ok || int(version) != OrderIntentSchemaVersion {
		t.Fatalf("expected schemaVersion %d, got %v", OrderIntentSchemaVersion, env["schemaVersion"])
	}

	decoded, err := DecodeOrderIntent(payload)
	if err != nil {
		t.Fatalf("DecodeOrderIntent: %v", err)
	}
	if !reflect.DeepEqual(intent, decoded) {
		t.Fatalf("round trip mismatch:\nencoded %+v\ndecoded %+v", intent, decoded)
	}
}

func TestDecodeOrderIntentRejectsUnknownSchema(t *testing.T) {
	intent := sampleIntent()
	payload, err := EncodeOrderIntent(intent)
	if err != nil {
		t.Fatalf("EncodeOrderIntent: %v", err)
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	env["schemaVersion"] = json.RawMessage("2")
	tampered, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if _, err := DecodeOrderIntent(tampered); !errors.Is(err, ErrIntentSchema) {
		t.Fatalf("expected ErrIntentSchema, got %v", err)
	}
}

func TestDecodeOrderIntentRejectsBlankIntent(t *testing.T) {
	cases := map[string]string{
		"empty payload":  "",
		"not json":       "{",
		"missing fields": `{"schemaVersion":1,"intent":{"title":"x"}}`,
	}
	for name, payload := range cases {
		if _, err := DecodeOrderIntent([]byte(payload)); !errors.Is(err, ErrIntentSchema) {
			t.Fatalf("%s: expected ErrIntentSchema, got %v", name, err)
		}
	}
}

func TestPendingOrderStatusTerminal(t *testing.T) {
	if OrderStatusPendingPayment.Terminal() {
		t.Fatal("PENDING_PAYMENT must not be terminal")
	}
	if !OrderStatusFulfilled.Terminal() || !OrderStatusExpired.Terminal() {
		t.Fatal("FULFILLED and EXPIRED must be terminal")
	}
}
