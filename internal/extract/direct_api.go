package extract

import (
	"context"

	"github.com/tidwall/gjson"

	"github.com/jmylchreest/oem-crawler/internal/models"
)

// DirectAPIStrategy turns a retained JSON payload (from probe.Registry
// replay) into entities using the OEM's declarative field mapping (spec
// §4.5 "Direct-API"). Confidence is 0.95 on a shape match with every
// required field populated, 0.40 if some required fields are missing, and 0
// when the payload yields no mapped values at all.
type DirectAPIStrategy struct{}

func (DirectAPIStrategy) Label() string { return "direct_api" }

func (DirectAPIStrategy) Extract(_ context.Context, in Input) (Result, error) {
	if len(in.APIPayload) == 0 || len(in.Config.APIMapping) == 0 {
		return Result{}, errNoAPIPayload
	}
	if !gjson.ValidBytes(in.APIPayload) {
		return Result{}, errInvalidAPIPayload
	}
	root := gjson.ParseBytes(in.APIPayload)

	fields := make(map[string]string, len(in.Config.APIMapping))
	for field, path := range in.Config.APIMapping {
		v := root.Get(path)
		if v.Exists() {
			fields[field] = v.String()
		}
	}
	if len(fields) == 0 {
		return Result{Confidence: 0}, nil
	}

	entity := fieldsToEntity(in.Config.EntityKind, fields)
	confidence := 0.95
	for _, req := range in.Config.RequiredFields {
		if _, ok := fields[req]; !ok {
			confidence = 0.40
			break
		}
	}

	return Result{Entities: []Entity{entity}, Confidence: confidence}, nil
}

var (
	errNoAPIPayload      = newStrategyError("no API payload or mapping configured")
	errInvalidAPIPayload = newStrategyError("API payload is not valid JSON")
)

func newStrategyError(msg string) error { return &strategyError{msg: msg} }

type strategyError struct{ msg string }

func (e *strategyError) Error() string { return e.msg }

func fieldsToEntity(kind models.EntityType, fields map[string]string) Entity {
	if kind == models.EntityTypeOffer {
		return Entity{Kind: models.EntityTypeOffer, Offer: &models.OfferCanonical{
			ExternalKey: fields["external_key"],
			Title:       fields["title"],
			OfferType:   fields["offer_type"],
		}}
	}
	return Entity{Kind: models.EntityTypeProduct, Product: &models.ProductCanonical{
		ExternalKey: fields["external_key"],
		Title:       fields["title"],
	}}
}
