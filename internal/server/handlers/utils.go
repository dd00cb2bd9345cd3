package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// maxPayloadBytes bounds request bodies so a hostile client cannot exhaust
// memory through the build endpoints.
const maxPayloadBytes = 1 << 20

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decodePayload parses the request body into the dynamic payload map. An
// empty body yields an empty map; malformed JSON is an error.
func decodePayload(r *http.Request) (map[string]any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return map[string]any{}, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.New("request body is not a JSON object")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, nil
}
