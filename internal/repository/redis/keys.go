package redis

import "fmt"

const ns = "tixpay:v1"

func KeyEventSummary(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:summary", ns, eventID)
}

func KeyEventTicketTypes(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:ticket_types", ns, eventID)
}

func KeyAvailability(ticketTypeID int64) string {
	return fmt.Sprintf("%s:ticket_type:%d:availability", ns, ticketTypeID)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func KeyRetrySweepLock() string {
	return ns + ":lock:retry_sweep"
}

func KeyRetryPurgeMarker() string {
	return ns + ":retry:last_purge"
}

func ChannelTicketTypesChanged() string {
	return ns + ":ticket_types:changed"
}

func ChannelOrderOutcomes() string {
	return ns + ":orders:outcome"
}
