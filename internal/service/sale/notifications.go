package sale

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/notify"
)

// emitNotifications передаёт события диспетчеру и не ждёт доставки.
func (s *Service) emitNotifications(sale domain.Sale, reservation domain.Reservation) {
	if s.notifier == nil {
		return
	}
	for _, event := range saleEvents(sale, reservation) {
		if !s.notifier.Dispatch(event) {
			s.logger.WithFields(log.Fields{
				"sale_id":    sale.ID,
				"item_id":    event.ItemID,
				"event_type": event.Type,
			}).Debug("notification not queued")
		}
	}
}

// saleEvents строит SaleCompleted и события остатка по каждому затронутому товару.
// Нулевой остаток даёт только OutOfStock.
func saleEvents(sale domain.Sale, reservation domain.Reservation) []domain.NotificationEvent {
	occurred := sale.CommittedAt
	events := []domain.NotificationEvent{{
		Type:       domain.EventSaleCompleted,
		SaleID:     sale.ID,
		OccurredAt: occurred,
		Payload: map[string]any{
			notify.PayloadTotalMinor:    sale.TotalMinor,
			notify.PayloadCurrency:      sale.Currency,
			notify.PayloadCustomerRef:   sale.CustomerRef,
			notify.PayloadPaymentMethod: string(sale.PaymentMethod),
			notify.PayloadLineCount:     len(sale.Lines),
		},
	}}

	names := make(map[string]string, len(sale.Lines))
	for _, line := range sale.Lines {
		if line.Name != "" {
			names[line.RefID] = line.Name
		}
	}

	seen := make(map[string]bool, len(reservation.Lines))
	for _, line := range reservation.Lines {
		if seen[line.ItemID] {
			continue
		}
		seen[line.ItemID] = true

		var eventType domain.EventType
		switch {
		case line.OnHandAfter <= 0:
			eventType = domain.EventOutOfStock
		case line.OnHandAfter <= line.MinThreshold:
			eventType = domain.EventLowStock
		default:
			continue
		}

		events = append(events, domain.NotificationEvent{
			Type:       eventType,
			SaleID:     sale.ID,
			ItemID:     line.ItemID,
			OccurredAt: occurred,
			Payload: map[string]any{
				notify.PayloadItemName:     names[line.ItemID],
				notify.PayloadOnHand:       line.OnHandAfter,
				notify.PayloadMinThreshold: line.MinThreshold,
			},
		})
	}
	return events
}
