package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-orders/app/entity"
	"github.com/vibast-solutions/ms-go-orders/app/types"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderAlreadyExists = errors.New("order already exists")
)

const orderColumns = `id, code, customer_name, customer_phone, description,
		total_amount_cents, status, payment_status,
		payment_reference, pix_copy_paste, pix_qr_code_base64, pix_expires_at,
		payment_confirmed_at, created_at, updated_at`

type OrderFilter struct {
	Status        string
	PaymentStatus string
	CustomerPhone string
	Limit         int32
	Offset        int32
}

// OrderPaymentTransition is the terminal transition applied when a payment
// cycle settles. It is only ever written through UpdateIfPaymentPending.
type OrderPaymentTransition struct {
	PaymentStatus      types.PaymentStatus
	OrderStatus        types.OrderStatus
	PaymentConfirmedAt *time.Time
}

// NewPaymentCycle is the set of fields persisted when a payment is created
// or regenerated for an order.
type NewPaymentCycle struct {
	PaymentReference string
	PixCopyPaste     *string
	PixQRCodeBase64  *string
	PixExpiresAt     *time.Time
}

type OrderRepository struct {
	db DBTX
}

func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *entity.Order) error {
	query := `
		INSERT INTO orders (
			code, customer_name, customer_phone, description,
			total_amount_cents, status, payment_status,
			payment_reference, pix_copy_paste, pix_qr_code_base64, pix_expires_at,
			payment_confirmed_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		order.Code,
		order.CustomerName,
		order.CustomerPhone,
		order.Description,
		order.TotalAmountCents,
		string(order.Status),
		string(order.PaymentStatus),
		nullableStringValue(order.PaymentReference),
		nullableStringValue(order.PixCopyPaste),
		nullableStringValue(order.PixQRCodeBase64),
		nullableTimeValue(order.PixExpiresAt),
		nullableTimeValue(order.PaymentConfirmedAt),
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrOrderAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	order.ID = uint64(id)
	return nil
}

// Update writes the staff-editable fields. Payment fields are excluded on
// purpose: those move only through the conditional updates below.
func (r *OrderRepository) Update(ctx context.Context, order *entity.Order) error {
	query := `
		UPDATE orders SET
			customer_name = ?,
			customer_phone = ?,
			description = ?,
			total_amount_cents = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		order.CustomerName,
		order.CustomerPhone,
		order.Description,
		order.TotalAmountCents,
		order.UpdatedAt,
		order.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderNotFound
	}

	return nil
}

// UpdateIfPaymentPending applies a terminal payment transition only if the
// order's payment is still pending for the given payment reference. This is
// the single commit primitive shared by polling, webhook and manual confirm;
// racing paths degrade to exactly one applied=true.
func (r *OrderRepository) UpdateIfPaymentPending(ctx context.Context, orderID uint64, paymentReference string, t OrderPaymentTransition) (bool, error) {
	query := `
		UPDATE orders SET
			status = ?,
			payment_status = ?,
			payment_confirmed_at = ?,
			updated_at = ?
		WHERE id = ?
		  AND payment_status = ?
		  AND payment_reference = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		string(t.OrderStatus),
		string(t.PaymentStatus),
		nullableTimeValue(t.PaymentConfirmedAt),
		time.Now().UTC(),
		orderID,
		string(types.PaymentStatusPending),
		paymentReference,
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// BeginPaymentCycle installs a fresh payment reference and resets the
// payment sub-state to pending, guarded by the order still being in one of
// the allowed statuses.
func (r *OrderRepository) BeginPaymentCycle(ctx context.Context, orderID uint64, allowed []types.OrderStatus, cycle NewPaymentCycle) (bool, error) {
	if len(allowed) == 0 {
		return false, errors.New("allowed statuses must not be empty")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(allowed)), ", ")
	query := `
		UPDATE orders SET
			status = ?,
			payment_status = ?,
			payment_reference = ?,
			pix_copy_paste = ?,
			pix_qr_code_base64 = ?,
			pix_expires_at = ?,
			payment_confirmed_at = NULL,
			updated_at = ?
		WHERE id = ?
		  AND status IN (` + placeholders + `)
	`

	args := []interface{}{
		string(types.OrderStatusPendingPayment),
		string(types.PaymentStatusPending),
		cycle.PaymentReference,
		nullableStringValue(cycle.PixCopyPaste),
		nullableStringValue(cycle.PixQRCodeBase64),
		nullableTimeValue(cycle.PixExpiresAt),
		time.Now().UTC(),
		orderID,
	}
	for _, status := range allowed {
		args = append(args, string(status))
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// AdvanceStatusIf moves the kitchen status with a compare-and-set so two
// staff clicking at once produce one transition.
func (r *OrderRepository) AdvanceStatusIf(ctx context.Context, orderID uint64, from, to types.OrderStatus) (bool, error) {
	query := `UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`

	result, err := r.db.ExecContext(ctx, query, string(to), time.Now().UTC(), orderID, string(from))
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id uint64) (*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`

	order := &entity.Order{}
	if err := scanOrder(r.db.QueryRowContext(ctx, query, id), order); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return order, nil
}

func (r *OrderRepository) FindByPaymentReference(ctx context.Context, paymentReference string) (*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE payment_reference = ? LIMIT 1`

	order := &entity.Order{}
	if err := scanOrder(r.db.QueryRowContext(ctx, query, paymentReference), order); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return order, nil
}

func (r *OrderRepository) List(ctx context.Context, filter OrderFilter) ([]*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`

	conditions := make([]string, 0, 3)
	args := make([]interface{}, 0, 5)

	if strings.TrimSpace(filter.Status) != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if strings.TrimSpace(filter.PaymentStatus) != "" {
		conditions = append(conditions, "payment_status = ?")
		args = append(args, filter.PaymentStatus)
	}
	if strings.TrimSpace(filter.CustomerPhone) != "" {
		conditions = append(conditions, "customer_phone = ?")
		args = append(args, filter.CustomerPhone)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	return r.queryOrders(ctx, query, args...)
}

// ListStalePendingPayment returns awaiting-payment orders whose row has not
// moved since before the cutoff. Used by the reconcile sweep.
func (r *OrderRepository) ListStalePendingPayment(ctx context.Context, before time.Time, limit int32) ([]*entity.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE status = ?
		  AND payment_status = ?
		  AND payment_reference IS NOT NULL
		  AND updated_at <= ?
		ORDER BY updated_at ASC
		LIMIT ?
	`

	return r.queryOrders(ctx, query,
		string(types.OrderStatusPendingPayment),
		string(types.PaymentStatusPending),
		before,
		limit,
	)
}

// ListExpiredPixPending returns awaiting-payment orders whose PIX charge has
// passed its expiration. Used by the expire sweep.
func (r *OrderRepository) ListExpiredPixPending(ctx context.Context, now time.Time, limit int32) ([]*entity.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE status = ?
		  AND payment_status = ?
		  AND pix_expires_at IS NOT NULL
		  AND pix_expires_at <= ?
		ORDER BY pix_expires_at ASC
		LIMIT ?
	`

	return r.queryOrders(ctx, query,
		string(types.OrderStatusPendingPayment),
		string(types.PaymentStatusPending),
		now,
		limit,
	)
}

func (r *OrderRepository) queryOrders(ctx context.Context, query string, args ...interface{}) ([]*entity.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]*entity.Order, 0)
	for rows.Next() {
		item := &entity.Order{}
		if err := scanOrder(rows, item); err != nil {
			return nil, err
		}
		orders = append(orders, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(scan rowScanner, order *entity.Order) error {
	var status string
	var paymentStatus string
	var paymentReference sql.NullString
	var pixCopyPaste sql.NullString
	var pixQRCodeBase64 sql.NullString
	var pixExpiresAt sql.NullTime
	var paymentConfirmedAt sql.NullTime

	err := scan.Scan(
		&order.ID,
		&order.Code,
		&order.CustomerName,
		&order.CustomerPhone,
		&order.Description,
		&order.TotalAmountCents,
		&status,
		&paymentStatus,
		&paymentReference,
		&pixCopyPaste,
		&pixQRCodeBase64,
		&pixExpiresAt,
		&paymentConfirmedAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return err
	}

	order.Status = types.OrderStatus(status)
	order.PaymentStatus = types.PaymentStatus(paymentStatus)
	order.PaymentReference = stringPtrFromNull(paymentReference)
	order.PixCopyPaste = stringPtrFromNull(pixCopyPaste)
	order.PixQRCodeBase64 = stringPtrFromNull(pixQRCodeBase64)
	order.PixExpiresAt = timePtrFromNull(pixExpiresAt)
	order.PaymentConfirmedAt = timePtrFromNull(paymentConfirmedAt)

	return nil
}
