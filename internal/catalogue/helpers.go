package catalogue

import (
	"encoding/json"
	"fmt"

	"github.com/jmylchreest/oem-crawler/internal/models"
)

func marshalDiff(diff map[string]models.FieldDiff) ([]byte, error) {
	b, err := json.Marshal(diff)
	if err != nil {
		return nil, fmt.Errorf("catalogue: marshal diff: %w", err)
	}
	return b, nil
}

func unmarshalProductCanonical(raw string) (models.ProductCanonical, error) {
	var c models.ProductCanonical
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return c, fmt.Errorf("catalogue: unmarshal product canonical: %w", err)
	}
	return c, nil
}

func unmarshalOfferCanonical(raw string) (models.OfferCanonical, error) {
	var c models.OfferCanonical
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return c, fmt.Errorf("catalogue: unmarshal offer canonical: %w", err)
	}
	return c, nil
}
