package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sweeney/trimmer-monitor/internal/status"
	"github.com/sweeney/trimmer-monitor/internal/vision"
)

// regionRequest is the body of POST /config/region.
type regionRequest struct {
	X *int `json:"x"`
	Y *int `json:"y"`
	W *int `json:"w"`
	H *int `json:"h"`
}

func (r regionRequest) complete() bool {
	return r.X != nil && r.Y != nil && r.W != nil && r.H != nil
}

func (r regionRequest) region() vision.Region {
	return vision.Region{X: *r.X, Y: *r.Y, W: *r.W, H: *r.H}
}

// valueRequest is the body of POST /config/threshold and /config/min_area.
type valueRequest struct {
	Value *int `json:"value"`
}

// configResponse reports the outcome of a config request.
type configResponse struct {
	OK     bool                    `json:"ok"`
	Error  string                  `json:"error,omitempty"`
	Config *vision.DetectionConfig `json:"config,omitempty"`
}

// EventJSON is one line of the recent events log.
type EventJSON struct {
	Time    string `json:"time"`
	Message string `json:"message"`
}

func eventsResponse(entries []status.LogEntry) []EventJSON {
	out := make([]EventJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, EventJSON{
			Time:    e.Time.UTC().Format(time.RFC3339),
			Message: e.Message,
		})
	}
	return out
}

var errMissingField = errors.New("missing field")

// decode reads a JSON body into v and checks required fields. On failure it
// writes a 400 and returns false.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	err := dec.Decode(v)
	if err == nil {
		switch req := v.(type) {
		case *regionRequest:
			if !req.complete() {
				err = fmt.Errorf("%w: x, y, w and h are required", errMissingField)
			}
		case *valueRequest:
			if req.Value == nil {
				err = fmt.Errorf("%w: value", errMissingField)
			}
		}
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, configResponse{OK: false, Error: err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
