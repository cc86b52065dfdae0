package types

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type Order struct {
	Id                 uint64        `json:"id"`
	Code               string        `json:"code"`
	CustomerName       string        `json:"customer_name"`
	CustomerPhone      string        `json:"customer_phone"`
	Description        string        `json:"description"`
	TotalAmountCents   int64         `json:"total_amount_cents"`
	Status             OrderStatus   `json:"status"`
	PaymentStatus      PaymentStatus `json:"payment_status"`
	PaymentReference   string        `json:"payment_reference,omitempty"`
	PixCopyPaste       string        `json:"pix_copy_paste,omitempty"`
	PixQrCodeBase64    string        `json:"pix_qr_code_base64,omitempty"`
	PixExpiresAt       string        `json:"pix_expires_at,omitempty"`
	PaymentConfirmedAt string        `json:"payment_confirmed_at,omitempty"`
	CreatedAt          string        `json:"created_at"`
	UpdatedAt          string        `json:"updated_at"`
}

type OrderEnvelopeResponse struct {
	Order *Order `json:"order"`
}

type ListOrdersResponse struct {
	Orders []*Order `json:"orders"`
}
