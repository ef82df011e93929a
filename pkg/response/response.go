// Package response writes and reads the JSON envelope shared by the
// server and its agents:
//
//	{"success": true,  "data": ..., "meta": {...}}
//	{"success": false, "error": {"code": ..., "message": ..., "details": [...]}}
package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"retailsync/pkg/apierror"
)

// Envelope is the body of every response.
type Envelope struct {
	Success bool            `json:"success"`
	Data    interface{}     `json:"data,omitempty"`
	Meta    *Meta           `json:"meta,omitempty"`
	Error   *apierror.Error `json:"error,omitempty"`
}

// Meta describes one page of a listing.
type Meta struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

func write(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// JSON writes data with the given status.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	write(w, status, Envelope{Success: true, Data: data})
}

// JSONWithMeta writes one page of a listing.
func JSONWithMeta(w http.ResponseWriter, status int, data interface{}, page, limit int, total int64) {
	write(w, status, Envelope{Success: true, Data: data, Meta: &Meta{Page: page, Limit: limit, Total: total}})
}

func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error writes err mapped to its API status. Errors outside the domain
// classes become a 500 that does not reveal their text.
func Error(w http.ResponseWriter, err error) {
	apiErr := apierror.FromDomain(err)
	write(w, apiErr.StatusCode, Envelope{Error: apiErr})
}

// ErrMalformed is returned by Decode for a body that is not an envelope.
var ErrMalformed = errors.New("malformed response envelope")

// Decode reads an envelope from raw. On success the data member is
// unmarshalled into data; on failure the error object is returned with
// status filled in. A body that is neither yields ErrMalformed.
func Decode(status int, raw []byte, data interface{}) (*apierror.Error, error) {
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *apierror.Error `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ErrMalformed
	}
	if !env.Success {
		if env.Error == nil || env.Error.Message == "" {
			return nil, ErrMalformed
		}
		env.Error.StatusCode = status
		return env.Error, nil
	}
	if data != nil {
		if len(env.Data) == 0 || string(env.Data) == "null" {
			return nil, ErrMalformed
		}
		if err := json.Unmarshal(env.Data, data); err != nil {
			return nil, ErrMalformed
		}
	}
	return nil, nil
}
