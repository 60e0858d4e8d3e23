//go:build integration

package test

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestHealthCheck(t *testing.T) {
	resp, err := http.Get(BaseURL + "/api/health")
	if err != nil {
		t.Fatalf("Failed to make GET request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var healthResp map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}

	if healthResp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", healthResp["status"])
	}
}

func TestMergeWindow(t *testing.T) {
	resp, err := get("/api/merge-window", "", "")
	if err != nil {
		t.Fatalf("Failed to make GET request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var window map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&window); err != nil {
		t.Fatalf("Failed to decode window response: %v", err)
	}
	if _, ok := window["next"]; !ok {
		t.Errorf("Expected a next merge window in %v", window)
	}
}

func TestCreateFundingRequestValidation(t *testing.T) {
	tests := []struct {
		name           string
		userID         string
		request        CreateRequest
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "MissingIdentity",
			request:        CreateRequest{Currency: "NAIRA", Amount: "5000"},
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "unauthenticated",
		},
		{
			name:           "MissingCurrency",
			userID:         TestUserID,
			request:        CreateRequest{Amount: "5000"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "missing_currency",
		},
		{
			name:           "BelowMinimum",
			userID:         TestUserID,
			request:        CreateRequest{Currency: "NAIRA", Amount: "1"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "amount_below_minimum",
		},
		{
			name:           "UnsupportedCurrency",
			userID:         TestUserID,
			request:        CreateRequest{Currency: "EUR", Amount: "5000"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "unsupported_currency",
		},
		{
			name:           "NoWallet",
			userID:         TestUserID,
			request:        CreateRequest{Currency: "naira", Amount: "5000"},
			expectedStatus: http.StatusNotFound,
			expectedError:  "wallet_not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := post("/api/requests/funding", tt.userID, "", tt.request)
			if err != nil {
				t.Fatalf("Failed to make POST request: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.expectedStatus {
				body, _ := io.ReadAll(resp.Body)
				t.Fatalf("Expected status %d, got %d: %s", tt.expectedStatus, resp.StatusCode, body)
			}

			var errorResp ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
				t.Fatalf("Failed to decode error response: %v", err)
			}
			if errorResp.Error != tt.expectedError {
				t.Errorf("Expected error '%s', got '%s'", tt.expectedError, errorResp.Error)
			}
		})
	}
}

func TestAdminRequiresRole(t *testing.T) {
	resp, err := get("/api/admin/dashboard", TestUserID, "")
	if err != nil {
		t.Fatalf("Failed to make GET request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected status 403 without admin role, got %d", resp.StatusCode)
	}

	resp, err = get("/api/admin/dashboard", TestUserID, "admin")
	if err != nil {
		t.Fatalf("Failed to make GET request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200 with admin role, got %d", resp.StatusCode)
	}
}

func TestMetricsExposed(t *testing.T) {
	resp, err := http.Get(BaseURL + "/metrics")
	if err != nil {
		t.Fatalf("Failed to make GET request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read metrics: %v", err)
	}
	if !strings.Contains(string(body), "funding_merge_cycles_total") && !strings.Contains(string(body), "go_goroutines") {
		t.Errorf("Expected prometheus exposition, got %.200s", body)
	}
}
