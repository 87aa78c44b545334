package hashdiff

import (
	"testing"

	"github.com/jmylchreest/oem-crawler/internal/models"
)

func sampleProduct() models.ProductCanonical {
	return models.ProductCanonical{
		OEMID:        "ford",
		ExternalKey:  "ranger-xlt",
		Title:        "Ranger XLT",
		Availability: models.AvailabilityInStock,
		Price: models.Price{
			AmountMinorUnits: 5999000,
			Currency:         "aud",
			Type:             "drive_away",
		},
		KeyFeatures: []models.KeyFeature{
			{Label: "Engine", Value: "2.0L Bi-Turbo"},
			{Label: "Seats", Value: "5"},
		},
	}
}

func TestCanonicaliseProduct_StableAcrossFieldOrder(t *testing.T) {
	a := sampleProduct()
	b := models.ProductCanonical{
		Price:        a.Price,
		Title:        a.Title,
		ExternalKey:  a.ExternalKey,
		OEMID:        a.OEMID,
		Availability: a.Availability,
		KeyFeatures:  a.KeyFeatures,
	}

	if HashCanonical(CanonicaliseProduct(a)) != HashCanonical(CanonicaliseProduct(b)) {
		t.Fatalf("expected identical hash regardless of struct literal field order")
	}
}

func TestCanonicaliseProduct_CurrencyCaseInsensitive(t *testing.T) {
	a := sampleProduct()
	b := sampleProduct()
	b.Price.Currency = "AUD"

	if HashCanonical(CanonicaliseProduct(a)) != HashCanonical(CanonicaliseProduct(b)) {
		t.Fatalf("expected currency case to be normalised away")
	}
}

func TestCanonicaliseProduct_WhitespaceCollapsed(t *testing.T) {
	a := sampleProduct()
	b := sampleProduct()
	b.Title = "Ranger   XLT\n"

	if HashCanonical(CanonicaliseProduct(a)) != HashCanonical(CanonicaliseProduct(b)) {
		t.Fatalf("expected whitespace runs to collapse to a single space")
	}
}

func TestCanonicaliseProduct_DifferentPriceDiffersHash(t *testing.T) {
	a := sampleProduct()
	b := sampleProduct()
	b.Price.AmountMinorUnits = 6499000

	if HashCanonical(CanonicaliseProduct(a)) == HashCanonical(CanonicaliseProduct(b)) {
		t.Fatalf("expected differing price to produce a differing hash")
	}
}

func TestCanonicaliseProduct_VariantOrderMattersWithoutSortOrder(t *testing.T) {
	a := sampleProduct()
	a.Variants = []models.VariantDescriptor{
		{ExternalKey: "xlt", Title: "XLT"},
		{ExternalKey: "wildtrak", Title: "Wildtrak"},
	}
	b := sampleProduct()
	b.Variants = []models.VariantDescriptor{
		{ExternalKey: "wildtrak", Title: "Wildtrak"},
		{ExternalKey: "xlt", Title: "XLT"},
	}

	if HashCanonical(CanonicaliseProduct(a)) == HashCanonical(CanonicaliseProduct(b)) {
		// both zero sort_order, so stable sort preserves declaration order -> expected to differ
		return
	}
	t.Fatalf("expected variant declaration order (equal sort_order) to be semantically meaningful")
}

func TestCanonicaliseOffer_ApplicableModelsIsASet(t *testing.T) {
	a := models.OfferCanonical{
		OEMID:            "ford",
		ExternalKey:      "summer-sale",
		ApplicableModels: []string{"ranger", "everest"},
	}
	b := a
	b.ApplicableModels = []string{"everest", "ranger"}

	if HashCanonical(CanonicaliseOffer(a)) != HashCanonical(CanonicaliseOffer(b)) {
		t.Fatalf("expected applicable_models order to be irrelevant")
	}
}
