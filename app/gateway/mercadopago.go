package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultMercadoPagoBaseURL = "https://api.mercadopago.com"

type MercadoPagoConfig struct {
	BaseURL                   string
	AccessToken               string
	WebhookSecret             string
	SignatureToleranceSeconds int64
	HTTPTimeout               time.Duration
	PixExpiration             time.Duration
	Retry                     RetryPolicy
}

// MercadoPagoClient talks to the Mercado Pago payments API for PIX charges.
type MercadoPagoClient struct {
	cfg    MercadoPagoConfig
	client *http.Client
}

func NewMercadoPagoClient(cfg MercadoPagoConfig) *MercadoPagoClient {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultMercadoPagoBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cfg.SignatureToleranceSeconds <= 0 {
		cfg.SignatureToleranceSeconds = 300
	}
	if cfg.PixExpiration <= 0 {
		cfg.PixExpiration = 30 * time.Minute
	}

	return &MercadoPagoClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *MercadoPagoClient) CreatePayment(ctx context.Context, req *PaymentRequest) (*PaymentHandle, error) {
	if err := validatePaymentRequest(req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(c.cfg.AccessToken) == "" {
		return nil, &Error{Kind: KindAuth, Message: "gateway access token is not configured"}
	}

	expiresAt := time.Now().UTC().Add(c.cfg.PixExpiration)
	payload := map[string]interface{}{
		"transaction_amount": float64(req.AmountCents) / 100,
		"description":        req.Description,
		"payment_method_id":  "pix",
		"external_reference": strconv.FormatUint(req.OrderID, 10),
		"date_of_expiration": expiresAt.Format("2006-01-02T15:04:05.000-07:00"),
		"payer": map[string]interface{}{
			"first_name": req.CustomerName,
			"phone":      map[string]string{"number": req.CustomerPhone},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	// One idempotency key for the whole retry loop, so a retried create
	// cannot charge twice.
	idempotencyKey := uuid.NewString()

	var handle *PaymentHandle
	err = c.cfg.Retry.Do(ctx, func() error {
		raw, err := c.doJSON(ctx, http.MethodPost, "/v1/payments", body, idempotencyKey)
		if err != nil {
			return err
		}
		handle, err = parsePaymentHandle(raw)
		return err
	})
	if err != nil {
		return nil, err
	}

	return handle, nil
}

func (c *MercadoPagoClient) CheckStatus(ctx context.Context, paymentID string) (*StatusSnapshot, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, &Error{Kind: KindValidation, Message: "payment id is required"}
	}

	var snapshot *StatusSnapshot
	err := c.cfg.Retry.Do(ctx, func() error {
		raw, err := c.doJSON(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, "")
		if err != nil {
			return err
		}
		snapshot, err = parseStatusSnapshot(raw)
		return err
	})
	if err != nil {
		return nil, err
	}

	return snapshot, nil
}

// VerifyWebhookSignature checks the x-signature header (ts=...,v1=...)
// against an HMAC-SHA256 of the notification manifest, rejecting stale
// timestamps.
func (c *MercadoPagoClient) VerifyWebhookSignature(signatureHeader, requestID, dataID string) error {
	if strings.TrimSpace(c.cfg.WebhookSecret) == "" {
		return errors.New("gateway webhook secret is not configured")
	}

	signatureHeader = strings.TrimSpace(signatureHeader)
	if signatureHeader == "" {
		return errors.New("missing signature header")
	}

	var ts string
	v1 := make([]string, 0, 1)
	for _, part := range strings.Split(signatureHeader, ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "ts=") {
			ts = strings.TrimSpace(strings.TrimPrefix(part, "ts="))
		}
		if strings.HasPrefix(part, "v1=") {
			v1 = append(v1, strings.TrimSpace(strings.TrimPrefix(part, "v1=")))
		}
	}
	if ts == "" || len(v1) == 0 {
		return errors.New("malformed signature header")
	}

	tsUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return errors.New("malformed signature timestamp")
	}
	now := time.Now().Unix()
	if now-tsUnix > c.cfg.SignatureToleranceSeconds || tsUnix-now > c.cfg.SignatureToleranceSeconds {
		return errors.New("signature timestamp outside tolerance")
	}

	manifest := "id:" + strings.TrimSpace(dataID) + ";request-id:" + strings.TrimSpace(requestID) + ";ts:" + ts + ";"
	mac := hmac.New(sha256.New, []byte(c.cfg.WebhookSecret))
	_, _ = mac.Write([]byte(manifest))
	expected := mac.Sum(nil)

	for _, sig := range v1 {
		candidate, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(candidate, expected) {
			return nil
		}
	}

	return errors.New("invalid signature")
}

func (c *MercadoPagoClient) doJSON(ctx context.Context, method, path string, body []byte, idempotencyKey string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: "read response failed", Err: err}
	}
	if resp.StatusCode >= 400 {
		return nil, classifyHTTPStatus(resp.StatusCode, fmt.Sprintf("%s %s: %s", method, path, truncateBody(raw)))
	}

	return raw, nil
}

func validatePaymentRequest(req *PaymentRequest) error {
	if req == nil {
		return &Error{Kind: KindValidation, Message: "payment request is required"}
	}
	if req.AmountCents <= 0 {
		return &Error{Kind: KindValidation, Message: "amount must be > 0"}
	}
	if strings.TrimSpace(req.CustomerName) == "" {
		return &Error{Kind: KindValidation, Message: "customer name is required"}
	}
	if req.OrderID == 0 {
		return &Error{Kind: KindValidation, Message: "order reference is required"}
	}
	return nil
}

type paymentPayload struct {
	ID                 json.Number `json:"id"`
	Status             string      `json:"status"`
	StatusDetail       string      `json:"status_detail"`
	TransactionAmount  float64     `json:"transaction_amount"`
	DateCreated        string      `json:"date_created"`
	DateApproved       string      `json:"date_approved"`
	DateOfExpiration   string      `json:"date_of_expiration"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

func parsePaymentHandle(raw []byte) (*PaymentHandle, error) {
	var payload paymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &Error{Kind: KindMalformedResponse, Message: "invalid create payment response", Err: err}
	}

	id := strings.TrimSpace(payload.ID.String())
	if id == "" || id == "0" {
		return nil, &Error{Kind: KindMalformedResponse, Message: "payment id missing in response"}
	}

	handle := &PaymentHandle{
		ID:           id,
		Status:       payload.Status,
		QRCode:       payload.PointOfInteraction.TransactionData.QRCode,
		QRCodeBase64: payload.PointOfInteraction.TransactionData.QRCodeBase64,
		CopyPaste:    payload.PointOfInteraction.TransactionData.QRCode,
		AmountCents:  int64(payload.TransactionAmount*100 + 0.5),
	}
	if t, err := parseGatewayTime(payload.DateOfExpiration); err == nil {
		handle.ExpiresAt = t
	}

	return handle, nil
}

func parseStatusSnapshot(raw []byte) (*StatusSnapshot, error) {
	var payload paymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &Error{Kind: KindMalformedResponse, Message: "invalid status response", Err: err}
	}

	id := strings.TrimSpace(payload.ID.String())
	if id == "" || id == "0" {
		return nil, &Error{Kind: KindMalformedResponse, Message: "payment id missing in response"}
	}
	if strings.TrimSpace(payload.Status) == "" {
		return nil, &Error{Kind: KindMalformedResponse, Message: "payment status missing in response"}
	}

	snapshot := &StatusSnapshot{
		ID:           id,
		Status:       payload.Status,
		StatusDetail: payload.StatusDetail,
		AmountCents:  int64(payload.TransactionAmount*100 + 0.5),
	}
	if t, err := parseGatewayTime(payload.DateCreated); err == nil {
		snapshot.CreatedAt = t
	}
	if t, err := parseGatewayTime(payload.DateApproved); err == nil {
		approvedAt := t
		snapshot.ApprovedAt = &approvedAt
	}

	return snapshot, nil
}

func parseGatewayTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty time")
	}
	if t, err := time.Parse("2006-01-02T15:04:05.000-07:00", value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}

func truncateBody(raw []byte) string {
	const max = 512
	if len(raw) <= max {
		return string(raw)
	}
	return string(raw[:max])
}
