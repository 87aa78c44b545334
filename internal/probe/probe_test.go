package probe

import (
	"testing"

	"github.com/jmylchreest/oem-crawler/internal/models"
)

func TestClassifyShape_ProductsArray(t *testing.T) {
	body := []byte(`{"nameplates":[{"id":1,"name":"Ranger"},{"id":2,"name":"Everest"}]}`)
	if got := ClassifyShape(body); got != models.APIDataTypeProducts {
		t.Fatalf("expected products, got %s", got)
	}
}

func TestClassifyShape_OffersArrayNested(t *testing.T) {
	body := []byte(`{"data":{"offers":[{"id":"sale-1"}]}}`)
	if got := ClassifyShape(body); got != models.APIDataTypeOffers {
		t.Fatalf("expected offers, got %s", got)
	}
}

func TestClassifyShape_UnknownForEmptyOrUnrecognised(t *testing.T) {
	cases := [][]byte{
		[]byte(`{"config":{"theme":"dark"}}`),
		[]byte(`{"products":[]}`),
		[]byte(`not json`),
	}
	for _, body := range cases {
		if got := ClassifyShape(body); got != models.APIDataTypeUnknown {
			t.Errorf("ClassifyShape(%s) = %s, want unknown", body, got)
		}
	}
}

func TestTemplateURL_NumericAndHexSegments(t *testing.T) {
	cases := map[string]string{
		"https://api.ford.com/v1/vehicles/12345/specs":          "https://api.ford.com/v1/vehicles/{id}/specs",
		"https://api.ford.com/v1/sessions/a1b2c3d4e5f6/config":   "https://api.ford.com/v1/sessions/{token}/config",
		"https://www.ford.com.au/content/ranger/vehiclesmenu.data": "https://www.ford.com.au/content/ranger/vehiclesmenu.data",
	}
	for in, want := range cases {
		if got := TemplateURL(in); got != want {
			t.Errorf("TemplateURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseCandidate_RejectsInvalidJSON(t *testing.T) {
	_, ok := ParseCandidate("ford", Candidate{URL: "https://x.com/y", Body: []byte("not json")})
	if ok {
		t.Fatalf("expected ParseCandidate to reject invalid JSON")
	}
}

func TestParseCandidate_TagsDataType(t *testing.T) {
	api, ok := ParseCandidate("ford", Candidate{
		URL:    "https://www.ford.com.au/content/12345/vehiclesmenu.data",
		Method: "GET",
		Body:   []byte(`{"nameplates":[{"id":1}]}`),
	})
	if !ok {
		t.Fatalf("expected ParseCandidate to accept valid JSON")
	}
	if api.DataType != models.APIDataTypeProducts {
		t.Fatalf("expected products data type, got %s", api.DataType)
	}
	if api.URL != "https://www.ford.com.au/content/{id}/vehiclesmenu.data" {
		t.Fatalf("expected templated URL, got %s", api.URL)
	}
}
