package response

import (
	"encoding/json"
	"net/http"
)

type envelope struct {
	Data any `json:"data"`
}

type collectionEnvelope struct {
	Data any            `json:"data"`
	Meta PaginationMeta `json:"meta"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type PaginationMeta struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"has_next"`
}

// Meta builds pagination metadata for one page out of total items.
func Meta(page, limit, total int) PaginationMeta {
	return PaginationMeta{
		Page:    page,
		Limit:   limit,
		Total:   total,
		HasNext: page*limit < total,
	}
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

func Collection(w http.ResponseWriter, data any, meta PaginationMeta) {
	writeJSON(w, http.StatusOK, collectionEnvelope{Data: data, Meta: meta})
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// Raw writes v without the data envelope, for machine callers that expect
// a bare object.
func Raw(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
