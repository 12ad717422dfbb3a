package domain_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/lessons/internal/domain"
)

func TestIdempotencyStatusLifecycle(t *testing.T) {
	cases := []struct {
		status     domain.IdempotencyStatus
		valid      bool
		replayable bool
	}{
		// Заказ ещё оформляется: повтор получает 409, а не ответ.
		{status: domain.IdempotencyStatusProcessing, valid: true, replayable: false},
		{status: domain.IdempotencyStatusDone, valid: true, replayable: true},
		// Ошибки оформления (нет мест, заказ не сохранён) тоже отдаются повторно.
		{status: domain.IdempotencyStatusFailed, valid: true, replayable: true},
		{status: domain.IdempotencyStatus("cancelled"), valid: false, replayable: false},
		{status: domain.IdempotencyStatus(""), valid: false, replayable: false},
	}

	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			require.Equal(t, tc.valid, tc.status.Valid())
			require.Equal(t, tc.replayable, tc.status.Replayable())
		})
	}
}
