package response

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"retailsync/internal/model"
	"retailsync/pkg/apierror"
)

func TestErrorEnvelopeDecodes(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, fmt.Errorf("product p-9: %w", model.ErrNotFound))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), `"details"`) {
		t.Errorf("empty details were serialised: %s", rec.Body)
	}

	apiErr, err := Decode(rec.Code, rec.Body.Bytes(), nil)
	if err != nil || apiErr == nil {
		t.Fatalf("decode: %v %v", apiErr, err)
	}
	if apiErr.Code != "NOT_FOUND" || apiErr.StatusCode != http.StatusNotFound || !strings.Contains(apiErr.Message, "p-9") {
		t.Errorf("error = %+v", apiErr)
	}
}

func TestDataEnvelopeDecodes(t *testing.T) {
	rec := httptest.NewRecorder()
	Created(rec, model.ApplyResult{EntryID: "e-1", Status: model.ApplyApplied})

	var out model.ApplyResult
	apiErr, err := Decode(rec.Code, rec.Body.Bytes(), &out)
	if err != nil || apiErr != nil {
		t.Fatalf("decode: %v %v", apiErr, err)
	}
	if out.EntryID != "e-1" || out.Status != model.ApplyApplied {
		t.Errorf("data = %+v", out)
	}
}

func TestDecodeRejectsForeignBodies(t *testing.T) {
	var out model.ApplyResult
	for _, body := range []string{
		"<html>gateway</html>",
		`{"success":true}`,
		`{"success":false}`,
		`{"success":true,"data":"not an object"}`,
	} {
		if _, err := Decode(http.StatusOK, []byte(body), &out); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: err = %v, want ErrMalformed", body, err)
		}
	}
}

func TestListingCarriesMeta(t *testing.T) {
	rec := httptest.NewRecorder()
	JSONWithMeta(rec, http.StatusOK, []string{"a"}, 2, 10, 11)
	body := rec.Body.String()
	if !strings.Contains(body, `"meta":{"page":2,"limit":10,"total":11}`) {
		t.Errorf("body = %s", body)
	}

	rec = httptest.NewRecorder()
	Error(rec, apierror.ValidationError("", apierror.FieldError{Field: "sku", Message: "sku is required"}))
	apiErr, _ := Decode(rec.Code, rec.Body.Bytes(), nil)
	if apiErr == nil || apiErr.Summary() != "Validation failed; sku: sku is required" {
		t.Errorf("error = %+v", apiErr)
	}
}
