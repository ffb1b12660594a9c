package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"koi-auction/internal/domain"
)

func TestAlertToast(t *testing.T) {
	alert := domain.CompensationAlert{
		SagaID:   "saga-1",
		Saga:     FlowCancelAuction,
		Step:     stepKoi,
		Cause:    "gave up after 5 repair attempts",
		Metadata: map[string]string{"auction_id": "A1"},
	}

	toast := AlertToast(alert)
	assert.Equal(t, domain.ToastWarning, toast.Level)
	assert.Equal(t, "Rollback incomplete", toast.Title)
	assert.Equal(t, "cancel_auction could not undo step koi; automatic repair is pending (auction A1)", toast.Message)

	alert.Abandoned = true
	toast = AlertToast(alert)
	assert.Equal(t, "Repair abandoned", toast.Title)
	assert.Contains(t, toast.Message, "gave up after 5 repair attempts")
}
