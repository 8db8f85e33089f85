package domain

import "time"

// Типы событий журнала продажи.
const (
	SaleEventCommitted         = "SaleCommitted"
	SaleEventVoided            = "SaleVoided"
	SaleEventVoidRestockFailed = "SaleVoidRestockFailed"
	SaleEventReleaseFailed     = "SaleReservationReleaseFailed"
)

// SaleEvent - запись журнала продажи. Аннулирование фиксируется новой записью,
// исходные строки продажи не меняются.
type SaleEvent struct {
	SaleID   string
	Type     string
	Reason   string
	Occurred time.Time
}
