package domain

import "time"

// StockRecord - единственная авторитетная запись остатка по товару.
type StockRecord struct {
	ItemID       string
	OnHand       int64
	MinThreshold int64
	// Version растёт при каждом изменении остатка.
	Version   int64
	UpdatedAt time.Time
}

// StockRequest - запрос на изменение остатка по одной строке продажи.
type StockRequest struct {
	LineID   string
	ItemID   string
	Quantity int64
}

// ReservationStatus отражает статус резерва в рамках одной попытки проведения.
type ReservationStatus string

const (
	// ReservationStatusReserved - остаток списан, продажа ещё не записана.
	ReservationStatusReserved ReservationStatus = "reserved"
	// ReservationStatusCommitted - продажа записана, резерв закрыт.
	ReservationStatusCommitted ReservationStatus = "committed"
	// ReservationStatusReleased - резерв снят, остаток возвращён.
	ReservationStatusReleased ReservationStatus = "released"
)

// ReservedLine - результат списания по одной строке.
type ReservedLine struct {
	LineID   string
	ItemID   string
	Quantity int64
	// OnHandAfter - остаток товара сразу после списания всей партии.
	OnHandAfter  int64
	MinThreshold int64
}

// Reservation - атомарное списание партии строк, привязанное к одной попытке проведения.
type Reservation struct {
	ID        string
	SaleID    string
	Lines     []ReservedLine
	Status    ReservationStatus
	CreatedAt time.Time
}

// Quantities агрегирует количества по товарам.
func (r *Reservation) Quantities() map[string]int64 {
	totals := make(map[string]int64, len(r.Lines))
	for _, line := range r.Lines {
		totals[line.ItemID] += line.Quantity
	}
	return totals
}

// Line возвращает результат списания по идентификатору строки.
func (r *Reservation) Line(lineID string) (ReservedLine, bool) {
	for _, line := range r.Lines {
		if line.LineID == lineID {
			return line, true
		}
	}
	return ReservedLine{}, false
}
