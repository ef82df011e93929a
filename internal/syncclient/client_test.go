package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"retailsync/internal/model"
	"retailsync/internal/reconciler"
	"retailsync/pkg/apierror"
	"retailsync/pkg/response"
)

func testEnvelope() *model.Envelope {
	return &model.Envelope{
		EntryID:    "entry-1",
		Operation:  model.OpCreate,
		EntityType: model.EntityProduct,
		EntityID:   "p-1",
		Payload:    json.RawMessage(`{"name":"Tea","price":"2.00"}`),
		Timestamp:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestSendSuccess(t *testing.T) {
	var got model.Envelope
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/sync" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		headers = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		response.OK(w, model.ApplyResult{EntryID: got.EntryID, Status: model.ApplyApplied, EntityType: got.EntityType, EntityID: got.EntityID})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/", APIKey: "secret", ClientID: "register-1"})
	result, err := c.Send(context.Background(), testEnvelope())
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.Status != model.ApplyApplied || result.EntryID != "entry-1" {
		t.Errorf("result = %+v", result)
	}
	if got.ClientID != "register-1" {
		t.Errorf("envelope client id = %q", got.ClientID)
	}
	if headers.Get("X-API-Key") != "secret" || headers.Get("X-Client-ID") != "register-1" || headers.Get("X-Request-ID") == "" {
		t.Errorf("headers = %v", headers)
	}
}

func TestSendClassifiesFailures(t *testing.T) {
	tests := []struct {
		name      string
		err       *apierror.Error
		wantClass error
		transient bool
	}{
		{"not found", apierror.NotFound("product p-1 not found"), model.ErrNotFound, false},
		{"conflict", apierror.Conflict("sku taken"), model.ErrConflict, false},
		{"invalid operation", apierror.InvalidOperation("insufficient stock"), model.ErrInvalidOperation, false},
		{"validation", apierror.ValidationError("Validation failed", apierror.FieldError{Field: "name", Message: "name is required"}), model.ErrValidation, false},
		{"unauthorized", apierror.Unauthorized(""), nil, true},
		{"rate limited", apierror.TooManyRequests(""), nil, true},
		{"internal", apierror.InternalError(""), nil, true},
		{"unavailable", apierror.ServiceUnavailable(""), nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				response.Error(w, tt.err)
			}))
			defer srv.Close()

			_, err := New(Config{BaseURL: srv.URL}).Send(context.Background(), testEnvelope())
			if err == nil {
				t.Fatal("expected an error")
			}
			if IsTransient(err) != tt.transient {
				t.Errorf("IsTransient = %v, want %v (%v)", IsTransient(err), tt.transient, err)
			}
			if tt.wantClass != nil && !errors.Is(err, tt.wantClass) {
				t.Errorf("err = %v, want %v", err, tt.wantClass)
			}
			if reconciler.Retryable(err) != tt.transient {
				t.Errorf("Retryable = %v, want %v", reconciler.Retryable(err), tt.transient)
			}
			if !strings.Contains(err.Error(), tt.err.Message) {
				t.Errorf("err %q does not carry the server message %q", err, tt.err.Message)
			}
		})
	}
}

func TestSendValidationDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, apierror.ValidationError("Validation failed", apierror.FieldError{Field: "price", Message: "price cannot be negative"}))
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).Send(context.Background(), testEnvelope())
	if err == nil || !strings.Contains(err.Error(), "price: price cannot be negative") {
		t.Errorf("err = %v", err)
	}
}

func TestSendUnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(Config{BaseURL: url, Timeout: time.Second}).Send(context.Background(), testEnvelope())
	if !IsTransient(err) {
		t.Errorf("err = %v, want transient", err)
	}
}

func TestSendGarbledSuccessIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<html>proxy login</html>"))
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).Send(context.Background(), testEnvelope())
	if !IsTransient(err) {
		t.Errorf("err = %v, want transient", err)
	}
}

func TestSendCancelledReturnsContextError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := New(Config{BaseURL: srv.URL}).Send(ctx, testEnvelope())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if IsTransient(err) {
		t.Error("cancellation reported as transient")
	}
}

func TestPing(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/health" {
			http.NotFound(w, r)
			return
		}
		if !healthy.Load() {
			response.Error(w, apierror.ServiceUnavailable(""))
			return
		}
		response.OK(w, map[string]string{"status": "healthy"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("ping healthy: %v", err)
	}
	healthy.Store(false)
	if err := c.Ping(context.Background()); !IsTransient(err) {
		t.Errorf("ping unhealthy: err = %v", err)
	}
}

func TestRateLimitPacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, model.ApplyResult{Status: model.ApplyApplied})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, RequestsPerSec: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := c.Send(ctx, testEnvelope()); err != nil {
		t.Fatalf("first send: %v", err)
	}
	// The bucket is empty and the next token is a second away.
	if _, err := c.Send(ctx, testEnvelope()); err == nil {
		t.Error("second send was not paced")
	}
}
