package services

import (
	"fmt"

	"koi-auction/internal/domain"
)

// AlertToast renders a compensation alert as the warning operators see on the dashboard.
func AlertToast(alert domain.CompensationAlert) domain.Toast {
	title := "Rollback incomplete"
	msg := fmt.Sprintf("%s could not undo step %s; automatic repair is pending", alert.Saga, alert.Step)
	if alert.Abandoned {
		title = "Repair abandoned"
		msg = fmt.Sprintf("%s step %s needs manual repair: %s", alert.Saga, alert.Step, alert.Cause)
	}
	if id := alert.Metadata["auction_id"]; id != "" {
		msg += fmt.Sprintf(" (auction %s)", id)
	}
	return domain.Toast{
		Level:   domain.ToastWarning,
		Title:   title,
		Message: msg,
		At:      alert.Timestamp,
	}
}
