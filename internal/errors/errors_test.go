package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusFromErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "validation",
			err:  NewError("bad quantity").Mark(ErrValidation),
			want: http.StatusBadRequest,
		},
		{
			name: "duplicate invoice",
			err:  NewError("exists").WithHint("Invoice exists").Mark(ErrDuplicateInvoice),
			want: http.StatusConflict,
		},
		{
			name: "no payment method",
			err:  NewError("none").Mark(ErrNoPaymentMethod),
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "already paid",
			err:  NewError("paid").Mark(ErrAlreadyPaid),
			want: http.StatusConflict,
		},
		{
			name: "cycle running",
			err:  NewError("busy").Mark(ErrCycleAlreadyRunning),
			want: http.StatusConflict,
		},
		{
			name: "wrapped not found",
			err:  fmt.Errorf("lookup: %w", NewError("missing").Mark(ErrNotFound)),
			want: http.StatusNotFound,
		},
		{
			name: "plain error",
			err:  fmt.Errorf("boom"),
			want: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusFromErr(tt.err))
		})
	}
}

func TestBuilderKeepsHintAndMark(t *testing.T) {
	err := WithError(fmt.Errorf("card declined")).
		WithMessagef("charging payment %s", "pay_1").
		WithHint("Payment was declined").
		WithReportableDetails(map[string]any{"payment_id": "pay_1"}).
		Mark(ErrValidation)

	assert.True(t, IsValidation(err))
	assert.False(t, IsNotFound(err))
	assert.Contains(t, errors.GetAllHints(err), "Payment was declined")
	assert.Contains(t, err.Error(), "charging payment pay_1")
}

func TestCodeFromErr(t *testing.T) {
	assert.Equal(t, ErrCodeDuplicateInvoice, CodeFromErr(NewError("exists").Mark(ErrDuplicateInvoice)))
	assert.Equal(t, ErrCodeValidation, CodeFromErr(fmt.Errorf("wrap: %w", NewError("bad").Mark(ErrValidation))))
	assert.Equal(t, ErrCodeSystemError, CodeFromErr(fmt.Errorf("boom")))
}
