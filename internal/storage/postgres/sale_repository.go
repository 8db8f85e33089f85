package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type saleRepository struct {
	db *sql.DB
}

// NewSaleRepository создаёт PostgreSQL-реализацию SaleRepository.
func NewSaleRepository(store *Store) domain.SaleRepository {
	return &saleRepository{db: store.DB()}
}

// Create записывает продажу и её строки одной транзакцией.
// Повторная вставка того же ID возвращает ErrSaleAlreadyExists.
func (r *saleRepository) Create(ctx context.Context, sale domain.Sale) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var (
		promoID    sql.NullString
		promoKind  sql.NullString
		promoValue sql.NullInt64
	)
	if sale.Promotion != nil {
		promoID = sql.NullString{String: sale.Promotion.ID, Valid: true}
		promoKind = sql.NullString{String: string(sale.Promotion.Kind), Valid: true}
		promoValue = sql.NullInt64{Int64: sale.Promotion.Value, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, currency, subtotal_minor, line_discount_minor, discount_minor, total_minor,
			promotion_id, promotion_kind, promotion_value,
			customer_ref, payment_method, status, committed_at, voided_at, void_reason
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		sale.ID, sale.Currency, sale.SubtotalMinor, sale.LineDiscountMinor, sale.DiscountMinor, sale.TotalMinor,
		promoID, promoKind, promoValue,
		sale.CustomerRef, string(sale.PaymentMethod), string(sale.Status), sale.CommittedAt, sale.VoidedAt, sale.VoidReason,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSaleAlreadyExists
		}
		return fmt.Errorf("insert sale: %w", err)
	}

	for i, line := range sale.Lines {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO sale_lines (
				sale_id, position, line_id, kind, ref_id, name,
				unit_price_minor, quantity, line_discount_minor, stock_delta
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`,
			sale.ID, i, line.LineID, string(line.Kind), line.RefID, line.Name,
			line.UnitPriceMinor, line.Quantity, line.LineDiscountMinor, line.StockDelta,
		); err != nil {
			return fmt.Errorf("insert sale line: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create sale: %w", err)
	}

	return nil
}

// Get возвращает продажу со строками.
func (r *saleRepository) Get(ctx context.Context, id string) (domain.Sale, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	sale, err := scanSale(r.db.QueryRowContext(ctx, selectSaleSQL+` WHERE id = $1`, id))
	if err != nil {
		return domain.Sale{}, err
	}

	lines, err := r.loadLines(ctx, sale.ID)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.Lines = lines

	return sale, nil
}

// MarkVoided атомарно переводит committed-продажу в voided.
func (r *saleRepository) MarkVoided(ctx context.Context, id, reason string, at time.Time) (domain.Sale, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(opCtx, `
		UPDATE sales
		SET status = $1,
		    voided_at = $2,
		    void_reason = $3
		WHERE id = $4
		  AND status = $5
	`,
		string(domain.SaleStatusVoided), at.UTC(), reason, id, string(domain.SaleStatusCommitted),
	)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("update sale status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Sale{}, fmt.Errorf("rows affected: %w", err)
	}

	sale, getErr := r.Get(ctx, id)
	if getErr != nil {
		return domain.Sale{}, getErr
	}
	if affected == 0 {
		return sale, domain.ErrSaleNotCommitted
	}
	return sale, nil
}

const selectSaleSQL = `
	SELECT id, currency, subtotal_minor, line_discount_minor, discount_minor, total_minor,
	       promotion_id, promotion_kind, promotion_value,
	       customer_ref, payment_method, status, committed_at, voided_at, void_reason
	FROM sales`

func scanSale(row *sql.Row) (domain.Sale, error) {
	var (
		sale          domain.Sale
		promoID       sql.NullString
		promoKind     sql.NullString
		promoValue    sql.NullInt64
		paymentMethod string
		status        string
		voidedAt      sql.NullTime
	)

	err := row.Scan(
		&sale.ID, &sale.Currency, &sale.SubtotalMinor, &sale.LineDiscountMinor, &sale.DiscountMinor, &sale.TotalMinor,
		&promoID, &promoKind, &promoValue,
		&sale.CustomerRef, &paymentMethod, &status, &sale.CommittedAt, &voidedAt, &sale.VoidReason,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Sale{}, domain.ErrSaleNotFound
		}
		return domain.Sale{}, fmt.Errorf("select sale: %w", err)
	}

	sale.PaymentMethod = domain.PaymentMethod(paymentMethod)
	sale.Status = domain.SaleStatus(status)
	sale.CommittedAt = sale.CommittedAt.UTC()
	if promoKind.Valid {
		sale.Promotion = &domain.Promotion{
			ID:    promoID.String,
			Kind:  domain.PromotionKind(promoKind.String),
			Value: promoValue.Int64,
		}
	}
	if voidedAt.Valid {
		t := voidedAt.Time.UTC()
		sale.VoidedAt = &t
	}

	return sale, nil
}

func (r *saleRepository) loadLines(ctx context.Context, saleID string) ([]domain.SoldLine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT line_id, kind, ref_id, name, unit_price_minor, quantity, line_discount_minor, stock_delta
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY position ASC
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("load sale lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.SoldLine, 0)
	for rows.Next() {
		var (
			line domain.SoldLine
			kind string
		)
		if err := rows.Scan(
			&line.LineID, &kind, &line.RefID, &line.Name,
			&line.UnitPriceMinor, &line.Quantity, &line.LineDiscountMinor, &line.StockDelta,
		); err != nil {
			return nil, fmt.Errorf("scan sale line: %w", err)
		}
		line.Kind = domain.LineKind(kind)
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale lines: %w", err)
	}

	return lines, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.SaleRepository = (*saleRepository)(nil)
