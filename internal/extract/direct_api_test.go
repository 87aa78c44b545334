package extract

import (
	"context"
	"testing"

	"github.com/jmylchreest/oem-crawler/internal/models"
)

func TestDirectAPIStrategy_FullMatchIsHighConfidence(t *testing.T) {
	in := Input{
		APIPayload: []byte(`{"id":"ranger-xlt","title":"Ranger XLT"}`),
		Config: PageConfig{
			EntityKind:     models.EntityTypeProduct,
			RequiredFields: []string{"external_key", "title"},
			APIMapping:     FieldMapping{"external_key": "id", "title": "title"},
		},
	}
	res, err := DirectAPIStrategy{}.Extract(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Confidence != 0.95 {
		t.Fatalf("expected 0.95 confidence, got %f", res.Confidence)
	}
	if res.Entities[0].Product.ExternalKey != "ranger-xlt" {
		t.Fatalf("unexpected entity: %+v", res.Entities[0])
	}
}

func TestDirectAPIStrategy_MissingRequiredFieldLowersConfidence(t *testing.T) {
	in := Input{
		APIPayload: []byte(`{"id":"ranger-xlt"}`),
		Config: PageConfig{
			EntityKind:     models.EntityTypeProduct,
			RequiredFields: []string{"external_key", "title"},
			APIMapping:     FieldMapping{"external_key": "id", "title": "title"},
		},
	}
	res, err := DirectAPIStrategy{}.Extract(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Confidence != 0.40 {
		t.Fatalf("expected 0.40 confidence, got %f", res.Confidence)
	}
}

func TestDirectAPIStrategy_InvalidJSONIsAnError(t *testing.T) {
	in := Input{
		APIPayload: []byte("not json"),
		Config:     PageConfig{APIMapping: FieldMapping{"a": "b"}},
	}
	if _, err := (DirectAPIStrategy{}).Extract(context.Background(), in); err == nil {
		t.Fatalf("expected an error for invalid JSON")
	}
}

func TestDirectAPIStrategy_NoMappingIsAnError(t *testing.T) {
	in := Input{APIPayload: []byte(`{}`)}
	if _, err := (DirectAPIStrategy{}).Extract(context.Background(), in); err == nil {
		t.Fatalf("expected an error when no mapping is configured")
	}
}
