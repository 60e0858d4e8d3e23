//go:build integration

package test

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
)

// TestUserID is sent as the gateway identity; it owns no wallet on a fresh database.
const TestUserID = "5b0e3c1e-9a43-4d0c-8a55-3f1f7c2b9d10"

// BaseURL points at a running funding server, overridable with FUNDING_BASE_URL.
var BaseURL = "http://localhost:8080"

func init() {
	if err := godotenv.Load(".env"); err == nil {
		log.Printf("Loaded environment variables from .env")
	}
	if v := os.Getenv("FUNDING_BASE_URL"); v != "" {
		BaseURL = v
	}
}

// CreateRequest is the body of POST /api/requests/{side}
type CreateRequest struct {
	Currency string `json:"currency,omitempty"`
	Amount   string `json:"amount,omitempty"`
}

// ErrorResponse represents the API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func post(path, userID, role string, body any) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequest(http.MethodPost, BaseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if role != "" {
		req.Header.Set("X-User-Role", role)
	}
	return http.DefaultClient.Do(req)
}

func get(path, userID, role string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if role != "" {
		req.Header.Set("X-User-Role", role)
	}
	return http.DefaultClient.Do(req)
}
