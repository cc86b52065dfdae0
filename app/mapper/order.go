package mapper

import (
	"time"

	"github.com/vibast-solutions/ms-go-orders/app/entity"
	"github.com/vibast-solutions/ms-go-orders/app/types"
)

func OrderToResponse(item *entity.Order) *types.Order {
	if item == nil {
		return nil
	}

	return &types.Order{
		Id:                 item.ID,
		Code:               item.Code,
		CustomerName:       item.CustomerName,
		CustomerPhone:      item.CustomerPhone,
		Description:        item.Description,
		TotalAmountCents:   item.TotalAmountCents,
		Status:             item.Status,
		PaymentStatus:      item.PaymentStatus,
		PaymentReference:   derefString(item.PaymentReference),
		PixCopyPaste:       derefString(item.PixCopyPaste),
		PixQrCodeBase64:    derefString(item.PixQRCodeBase64),
		PixExpiresAt:       formatTime(item.PixExpiresAt),
		PaymentConfirmedAt: formatTime(item.PaymentConfirmedAt),
		CreatedAt:          item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func OrdersToResponse(items []*entity.Order) []*types.Order {
	result := make([]*types.Order, 0, len(items))
	for _, item := range items {
		result = append(result, OrderToResponse(item))
	}
	return result
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func formatTime(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(time.RFC3339)
}
