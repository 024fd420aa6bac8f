package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrGatewayTimeout means Wompi did not answer within the request deadline.
var ErrGatewayTimeout = errors.New("timeout al conectar con Wompi")

// GatewayHTTPError is a non-2xx answer from Wompi. The response body is kept
// for diagnostics.
type GatewayHTTPError struct {
	StatusCode int
	Body       string
}

func (e *GatewayHTTPError) Error() string {
	return fmt.Sprintf("error en Wompi API (status %d): %s", e.StatusCode, e.Body)
}

// GatewayConnectionError means the request never produced an HTTP response.
type GatewayConnectionError struct {
	Err error
}

func (e *GatewayConnectionError) Error() string {
	return fmt.Sprintf("error de conexión con Wompi: %v", e.Err)
}

func (e *GatewayConnectionError) Unwrap() error { return e.Err }

// PSETransactionParams carries everything Wompi needs to create a PSE charge.
type PSETransactionParams struct {
	AmountInCents            int64
	Reference                string
	CustomerEmail            string
	CustomerPhone            string
	CustomerFullName         string
	UserLegalID              string
	UserLegalIDType          string // CC, CE, NIT, PP, TI
	UserType                 int    // 0 natural person, 1 legal entity
	FinancialInstitutionCode string
	Currency                 string
}

// TransactionResult is Wompi's answer to a transaction create or status query.
type TransactionResult struct {
	TransactionID string
	Status        string
	RedirectURL   *string
	TicketID      *string
	ReturnCode    *string
}

// FinancialInstitution is one PSE bank.
type FinancialInstitution struct {
	Code string `json:"financial_institution_code"`
	Name string `json:"financial_institution_name"`
}

// PaymentGateway abstracts the remote payment rail so orchestration code
// stays independent of the Wompi wire format.
type PaymentGateway interface {
	CreatePSETransaction(ctx context.Context, params PSETransactionParams) (*TransactionResult, error)
	GetTransactionStatus(ctx context.Context, transactionID string) (*TransactionResult, error)
	GetFinancialInstitutions(ctx context.Context) ([]FinancialInstitution, error)
}

// acceptanceTokenCache holds Wompi's presigned acceptance tokens for the
// process. Population is last-writer-wins; the tokens are idempotent so a
// concurrent double-fetch is harmless.
type acceptanceTokenCache struct {
	mu                sync.Mutex
	acceptanceToken   string
	personalAuthToken string
	expiresAt         time.Time
	ttl               time.Duration
}

func (c *acceptanceTokenCache) get() (string, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acceptanceToken == "" || time.Now().After(c.expiresAt) {
		return "", "", false
	}
	return c.acceptanceToken, c.personalAuthToken, true
}

func (c *acceptanceTokenCache) set(acceptance, personalAuth string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acceptanceToken = acceptance
	c.personalAuthToken = personalAuth
	c.expiresAt = time.Now().Add(c.ttl)
}

// WompiConfig carries the gateway credentials and tuning knobs.
type WompiConfig struct {
	BaseURL         string
	PublicKey       string
	PrivateKey      string
	IntegritySecret string
	TokenTTL        time.Duration
	RequestTimeout  time.Duration
}

// WompiService talks to the Wompi payment gateway. It performs no retries;
// a failed call surfaces to the caller as-is.
type WompiService struct {
	baseURL         string
	publicKey       string
	privateKey      string
	integritySecret string
	client          *http.Client
	tokens          acceptanceTokenCache
}

func NewWompiService(cfg WompiConfig) *WompiService {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ttl := cfg.TokenTTL
	if ttl == 0 {
		ttl = 30 * time.Minute
	}
	return &WompiService{
		baseURL:         strings.TrimSuffix(cfg.BaseURL, "/"),
		publicKey:       cfg.PublicKey,
		privateKey:      cfg.PrivateKey,
		integritySecret: cfg.IntegritySecret,
		client:          &http.Client{Timeout: timeout},
		tokens:          acceptanceTokenCache{ttl: ttl},
	}
}

// GenerateSignature builds Wompi's integrity signature:
// SHA-256 over reference + amount_in_cents + currency + integrity secret.
func (s *WompiService) GenerateSignature(reference string, amountInCents int64, currency string) string {
	payload := fmt.Sprintf("%s%d%s%s", reference, amountInCents, currency, s.integritySecret)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func (s *WompiService) doRequest(ctx context.Context, method, endpoint, bearer string, payload interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		bodyReader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, ErrGatewayTimeout
		}
		return nil, &GatewayConnectionError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &GatewayConnectionError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &GatewayHTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}

// merchantInfo is the subset of the merchant endpoint we care about.
type merchantInfo struct {
	Data struct {
		PresignedAcceptance struct {
			AcceptanceToken string `json:"acceptance_token"`
		} `json:"presigned_acceptance"`
		PresignedPersonalDataAuth struct {
			AcceptanceToken string `json:"acceptance_token"`
		} `json:"presigned_personal_data_auth"`
	} `json:"data"`
}

// getAcceptanceTokens returns the presigned acceptance tokens, fetching them
// from the merchant endpoint on cache miss or expiry.
func (s *WompiService) getAcceptanceTokens(ctx context.Context) (string, string, error) {
	if acceptance, personalAuth, ok := s.tokens.get(); ok {
		return acceptance, personalAuth, nil
	}

	log.Printf("[WOMPI_TOKENS] Cache miss, fetching merchant info")
	body, err := s.doRequest(ctx, http.MethodGet, "/merchants/"+s.publicKey, "", nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch merchant info: %w", err)
	}

	var info merchantInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return "", "", fmt.Errorf("failed to decode merchant info: %w", err)
	}

	acceptance := info.Data.PresignedAcceptance.AcceptanceToken
	personalAuth := info.Data.PresignedPersonalDataAuth.AcceptanceToken
	if acceptance == "" || personalAuth == "" {
		return "", "", errors.New("no se pudieron obtener los tokens de aceptación desde Wompi")
	}

	s.tokens.set(acceptance, personalAuth)
	log.Printf("[WOMPI_TOKENS] Tokens refreshed")
	return acceptance, personalAuth, nil
}

// transactionEnvelope is the wire shape of Wompi transaction responses.
type transactionEnvelope struct {
	Data struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		PaymentMethod struct {
			Extra struct {
				AsyncPaymentURL string `json:"async_payment_url"`
				TicketID        string `json:"ticket_id"`
				ReturnCode      string `json:"return_code"`
			} `json:"extra"`
		} `json:"payment_method"`
	} `json:"data"`
}

func resultFromEnvelope(env transactionEnvelope) *TransactionResult {
	result := &TransactionResult{
		TransactionID: env.Data.ID,
		Status:        env.Data.Status,
	}
	extra := env.Data.PaymentMethod.Extra
	if extra.AsyncPaymentURL != "" {
		u := extra.AsyncPaymentURL
		result.RedirectURL = &u
	}
	if extra.TicketID != "" {
		t := extra.TicketID
		result.TicketID = &t
	}
	if extra.ReturnCode != "" {
		c := extra.ReturnCode
		result.ReturnCode = &c
	}
	return result
}

// CreatePSETransaction creates a PSE bank-transfer transaction in Wompi and
// returns its id, initial status and async payment URL when present.
func (s *WompiService) CreatePSETransaction(ctx context.Context, params PSETransactionParams) (*TransactionResult, error) {
	if params.Currency == "" {
		params.Currency = "COP"
	}

	log.Printf("[WOMPI_API] Creating PSE transaction - Reference: %s, Amount: %d, Bank: %s",
		params.Reference, params.AmountInCents, params.FinancialInstitutionCode)

	acceptanceToken, personalAuthToken, err := s.getAcceptanceTokens(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"acceptance_token":     acceptanceToken,
		"accept_personal_auth": personalAuthToken,
		"amount_in_cents":      params.AmountInCents,
		"currency":             params.Currency,
		"reference":            params.Reference,
		"customer_email":       params.CustomerEmail,
		"signature":            s.GenerateSignature(params.Reference, params.AmountInCents, params.Currency),
		"payment_method": map[string]interface{}{
			"type":                       "PSE",
			"user_type":                  params.UserType,
			"user_legal_id_type":         params.UserLegalIDType,
			"user_legal_id":              params.UserLegalID,
			"financial_institution_code": params.FinancialInstitutionCode,
			"payment_description":        fmt.Sprintf("Pago - %s", params.Reference),
		},
		"customer_data": map[string]interface{}{
			"phone_number": params.CustomerPhone,
			"full_name":    params.CustomerFullName,
		},
	}

	body, err := s.doRequest(ctx, http.MethodPost, "/transactions", s.privateKey, payload)
	if err != nil {
		log.Printf("[WOMPI_API] Create failed - Reference: %s, Error: %v", params.Reference, err)
		return nil, err
	}

	var env transactionEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode transaction response: %w", err)
	}

	log.Printf("[WOMPI_API] Transaction created - ID: %s, Status: %s", env.Data.ID, env.Data.Status)
	return resultFromEnvelope(env), nil
}

// GetTransactionStatus fetches the current state of a transaction.
func (s *WompiService) GetTransactionStatus(ctx context.Context, transactionID string) (*TransactionResult, error) {
	log.Printf("[WOMPI_STATUS] Querying transaction - ID: %s", transactionID)

	body, err := s.doRequest(ctx, http.MethodGet, "/transactions/"+transactionID, "", nil)
	if err != nil {
		log.Printf("[WOMPI_STATUS] Query failed - ID: %s, Error: %v", transactionID, err)
		return nil, err
	}

	var env transactionEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}

	log.Printf("[WOMPI_STATUS] Status fetched - ID: %s, Status: %s", transactionID, env.Data.Status)
	return resultFromEnvelope(env), nil
}

// GetFinancialInstitutions lists the PSE banks available for checkout.
func (s *WompiService) GetFinancialInstitutions(ctx context.Context) ([]FinancialInstitution, error) {
	body, err := s.doRequest(ctx, http.MethodGet, "/pse/financial_institutions", s.publicKey, nil)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data []FinancialInstitution `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode institutions response: %w", err)
	}

	log.Printf("[WOMPI_BANKS] Institutions fetched - Total: %d", len(envelope.Data))
	return envelope.Data, nil
}
