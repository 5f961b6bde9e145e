package paymentmethod

import (
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/types"
)

// PaymentMethod is a tenant's saved way to pay. GatewayRef is the provider
// side reference, e.g. a card processor payment method id.
type PaymentMethod struct {
	ID          string                  `db:"id" json:"id"`
	Type        types.PaymentMethodType `db:"type" json:"type"`
	GatewayRef  string                  `db:"gateway_ref" json:"gateway_ref"`
	Description string                  `db:"description" json:"description"`
	IsDefault   bool                    `db:"is_default" json:"is_default"`
	types.BaseModel
}

func (m *PaymentMethod) Validate() error {
	if err := m.Type.Validate(); err != nil {
		return err
	}
	if m.Type != types.PaymentMethodTypeManual && m.GatewayRef == "" {
		return ierr.NewError("gateway reference is required").
			WithHint("Payment method must carry a gateway reference").
			WithReportableDetails(map[string]any{
				"type": m.Type,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
