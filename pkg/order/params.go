package order

import (
	"strings"

	"github.com/google/uuid"

	"tollgate/pkg/core"
)

// NewClientOrderID returns a fresh id accepted by Binance's
// newClientOrderId field.
func NewClientOrderID() string {
	return uuid.NewString()
}

// ToParams converts an order to the parameters of OpPlaceOrder. The price is
// only sent for types that carry one, the stop price only for trigger types,
// and time in force for priced types other than LIMIT_MAKER.
func ToParams(o *core.Order) core.Params {
	p := core.Params{
		"symbol":   strings.ToUpper(strings.ReplaceAll(o.Symbol, "/", "")),
		"side":     o.Side.String(),
		"type":     o.Type.String(),
		"quantity": o.Quantity.Text('f'),
	}
	if o.Type.RequiresPrice() {
		p["price"] = o.Price.Text('f')
		if o.Type != core.TypeLimitMaker {
			p["time_in_force"] = o.TimeInForce.String()
		}
	}
	if o.Type.RequiresStopPrice() {
		p["stop_price"] = o.StopPrice.Text('f')
	}
	if o.ClientOrderID != "" {
		p["client_order_id"] = o.ClientOrderID
	}
	return p
}

// CancelParams builds the parameters of OpCancelOrder. Either id may be
// empty but not both.
func CancelParams(symbol, orderID, clientOrderID string) core.Params {
	p := core.Params{"symbol": strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))}
	if orderID != "" {
		p["order_id"] = orderID
	}
	if clientOrderID != "" {
		p["client_order_id"] = clientOrderID
	}
	return p
}
