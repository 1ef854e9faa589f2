package domain

import "strings"

// MapGatewayStatus maps the provider's free-form status string onto the
// internal payment status. Unknown values map to PaymentPending, which the
// webhook treats as "no transition".
func MapGatewayStatus(raw string) PaymentStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "COMPLETED", "SUCCESS", "PAID", "DONE":
		return PaymentCompleted
	case "FAILED", "ERROR":
		return PaymentFailed
	case "CANCELLED", "CANCELED":
		return PaymentCancelled
	default:
		return PaymentPending
	}
}

// OrderStatusFor returns the order status a pending order moves to when its
// payment reaches ps, and false when ps does not move orders.
func OrderStatusFor(ps PaymentStatus) (OrderStatus, bool) {
	switch ps {
	case PaymentCompleted:
		return OrderConfirmed, true
	case PaymentFailed, PaymentCancelled:
		return OrderCancelled, true
	default:
		return "", false
	}
}

// OutcomeFor is the notification outcome for an order status.
func OutcomeFor(os OrderStatus) Outcome {
	if os == OrderConfirmed {
		return OutcomeSuccess
	}
	return OutcomeFailed
}

// AvailableStock is total minus reserved, clamped at zero.
func AvailableStock(total, reserved int64) int64 {
	if avail := total - reserved; avail > 0 {
		return avail
	}
	return 0
}
