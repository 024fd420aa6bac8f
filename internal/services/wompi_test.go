package services

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
)

func testWompiConfig(baseURL string) WompiConfig {
	return WompiConfig{
		BaseURL:         baseURL,
		PublicKey:       "pub_test_key",
		PrivateKey:      "prv_test_key",
		IntegritySecret: "test_integrity_secret",
		TokenTTL:        time.Minute,
		RequestTimeout:  2 * time.Second,
	}
}

func merchantResponse() map[string]interface{} {
	return map[string]interface{}{
		"data": map[string]interface{}{
			"presigned_acceptance": map[string]string{
				"acceptance_token": "acc-token-1",
			},
			"presigned_personal_data_auth": map[string]string{
				"acceptance_token": "auth-token-1",
			},
		},
	}
}

func TestGenerateSignature(t *testing.T) {
	s := NewWompiService(testWompiConfig("https://example.test/v1/"))

	got := s.GenerateSignature("PAY_USER_7_1700000000", 250000, "COP")
	want := "d03fa6aafbe8db09d60e628f815b5929870db147f5395c54410ee41b847e4311"
	if got != want {
		t.Errorf("GenerateSignature() = %s; want %s", got, want)
	}
}

func TestCreatePSETransaction(t *testing.T) {
	var gotPayload map[string]interface{}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/merchants/"):
			json.NewEncoder(w).Encode(merchantResponse())
		case r.URL.Path == "/transactions" && r.Method == http.MethodPost:
			if auth := r.Header.Get("Authorization"); auth != "Bearer prv_test_key" {
				t.Errorf("unexpected authorization header %q", auth)
			}
			json.NewDecoder(r.Body).Decode(&gotPayload)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"id":     "txn-123",
					"status": "PENDING",
					"payment_method": map[string]interface{}{
						"extra": map[string]string{
							"async_payment_url": "https://pse.example/pay/txn-123",
						},
					},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	s := NewWompiService(testWompiConfig(ts.URL))
	result, err := s.CreatePSETransaction(context.Background(), PSETransactionParams{
		AmountInCents:            250000,
		Reference:                "PAY_USER_7_1700000000",
		CustomerEmail:            "ana@example.com",
		CustomerPhone:            "3001234567",
		CustomerFullName:         "Ana Pérez",
		UserLegalID:              "1020304050",
		UserLegalIDType:          "CC",
		FinancialInstitutionCode: "1007",
	})
	if err != nil {
		t.Fatalf("CreatePSETransaction() error = %v", err)
	}

	if result.TransactionID != "txn-123" {
		t.Errorf("TransactionID = %s; want txn-123", result.TransactionID)
	}
	if result.Status != "PENDING" {
		t.Errorf("Status = %s; want PENDING", result.Status)
	}
	if result.RedirectURL == nil || *result.RedirectURL != "https://pse.example/pay/txn-123" {
		t.Errorf("RedirectURL = %v; want async payment url", result.RedirectURL)
	}

	if gotPayload["acceptance_token"] != "acc-token-1" {
		t.Errorf("payload acceptance_token = %v", gotPayload["acceptance_token"])
	}
	if gotPayload["accept_personal_auth"] != "auth-token-1" {
		t.Errorf("payload accept_personal_auth = %v", gotPayload["accept_personal_auth"])
	}
	wantSig := "d03fa6aafbe8db09d60e628f815b5929870db147f5395c54410ee41b847e4311"
	if gotPayload["signature"] != wantSig {
		t.Errorf("payload signature = %v; want %s", gotPayload["signature"], wantSig)
	}
}

func TestAcceptanceTokensCached(t *testing.T) {
	var merchantHits int64

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/merchants/"):
			atomic.AddInt64(&merchantHits, 1)
			json.NewEncoder(w).Encode(merchantResponse())
		case r.URL.Path == "/transactions":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]string{"id": "txn-1", "status": "PENDING"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	s := NewWompiService(testWompiConfig(ts.URL))
	params := PSETransactionParams{AmountInCents: 1000, Reference: "ref", FinancialInstitutionCode: "1"}

	for i := 0; i < 3; i++ {
		if _, err := s.CreatePSETransaction(context.Background(), params); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	if hits := atomic.LoadInt64(&merchantHits); hits != 1 {
		t.Errorf("merchant endpoint hit %d times; want 1", hits)
	}
}

func TestAcceptanceTokensExpire(t *testing.T) {
	var merchantHits int64

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/merchants/") {
			atomic.AddInt64(&merchantHits, 1)
			json.NewEncoder(w).Encode(merchantResponse())
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]string{"id": "txn-1", "status": "PENDING"},
		})
	}))
	defer ts.Close()

	cfg := testWompiConfig(ts.URL)
	cfg.TokenTTL = 10 * time.Millisecond
	s := NewWompiService(cfg)
	params := PSETransactionParams{AmountInCents: 1000, Reference: "ref", FinancialInstitutionCode: "1"}

	if _, err := s.CreatePSETransaction(context.Background(), params); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := s.CreatePSETransaction(context.Background(), params); err != nil {
		t.Fatal(err)
	}

	if hits := atomic.LoadInt64(&merchantHits); hits != 2 {
		t.Errorf("merchant endpoint hit %d times after expiry; want 2", hits)
	}
}

func TestCreatePSETransactionHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/merchants/") {
			json.NewEncoder(w).Encode(merchantResponse())
			return
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":{"type":"INPUT_VALIDATION_ERROR"}}`))
	}))
	defer ts.Close()

	s := NewWompiService(testWompiConfig(ts.URL))
	_, err := s.CreatePSETransaction(context.Background(), PSETransactionParams{
		AmountInCents: 1000, Reference: "ref", FinancialInstitutionCode: "1",
	})

	var httpErr *GatewayHTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error = %v; want *GatewayHTTPError", err)
	}
	if httpErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("StatusCode = %d; want 422", httpErr.StatusCode)
	}
	if !strings.Contains(httpErr.Body, "INPUT_VALIDATION_ERROR") {
		t.Errorf("Body = %q; want the gateway response retained", httpErr.Body)
	}
}

func TestGetTransactionStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transactions/txn-9" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"id":     "txn-9",
				"status": "APPROVED",
				"payment_method": map[string]interface{}{
					"extra": map[string]string{
						"ticket_id":   "tk-1",
						"return_code": "SUCCESS",
					},
				},
			},
		})
	}))
	defer ts.Close()

	s := NewWompiService(testWompiConfig(ts.URL))
	result, err := s.GetTransactionStatus(context.Background(), "txn-9")
	if err != nil {
		t.Fatalf("GetTransactionStatus() error = %v", err)
	}
	if result.Status != "APPROVED" {
		t.Errorf("Status = %s; want APPROVED", result.Status)
	}
	if result.TicketID == nil || *result.TicketID != "tk-1" {
		t.Errorf("TicketID = %v; want tk-1", result.TicketID)
	}
	if result.ReturnCode == nil || *result.ReturnCode != "SUCCESS" {
		t.Errorf("ReturnCode = %v; want SUCCESS", result.ReturnCode)
	}
}

func TestGetFinancialInstitutions(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pse/financial_institutions" {
			http.NotFound(w, r)
			return
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer pub_test_key" {
			t.Errorf("unexpected authorization header %q", auth)
		}
		w.Write([]byte(`{"data":[
			{"financial_institution_code":"1007","financial_institution_name":"Bancolombia"},
			{"financial_institution_code":"1019","financial_institution_name":"Scotiabank Colpatria"}
		]}`))
	}))
	defer ts.Close()

	s := NewWompiService(testWompiConfig(ts.URL))
	banks, err := s.GetFinancialInstitutions(context.Background())
	if err != nil {
		t.Fatalf("GetFinancialInstitutions() error = %v", err)
	}
	if len(banks) != 2 {
		t.Fatalf("got %d banks; want 2", len(banks))
	}
	if banks[0].Code != "1007" || banks[0].Name != "Bancolombia" {
		t.Errorf("banks[0] = %+v", banks[0])
	}
}

func TestGatewayTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer ts.Close()

	cfg := testWompiConfig(ts.URL)
	cfg.RequestTimeout = 30 * time.Millisecond
	s := NewWompiService(cfg)

	_, err := s.GetTransactionStatus(context.Background(), "txn-slow")
	if !errors.Is(err, ErrGatewayTimeout) {
		t.Errorf("error = %v; want ErrGatewayTimeout", err)
	}
}

func TestGatewayConnectionError(t *testing.T) {
	// Nothing listens on this port
	s := NewWompiService(testWompiConfig("http://127.0.0.1:1"))

	_, err := s.GetTransactionStatus(context.Background(), "txn-1")
	var connErr *GatewayConnectionError
	if !errors.As(err, &connErr) {
		t.Errorf("error = %v; want *GatewayConnectionError", err)
	}
}
