package order

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/apd/v3"
	"github.com/go-playground/validator/v10"

	"tollgate/pkg/core"
)

var validate = validator.New()

// Builder provides a fluent interface for constructing orders.
// It keeps the first parse error and reports it on Build.
//
// Example:
//
//	o, err := order.NewBuilder("BTCUSDT").
//	    Buy().
//	    Limit().
//	    Price("50000").
//	    Quantity("0.001").
//	    Build()
type Builder struct {
	order *core.Order
	err   error
}

// NewBuilder creates a builder for symbol.
func NewBuilder(symbol string) *Builder {
	return &Builder{
		order: &core.Order{
			Symbol: symbol,
			Status: core.StatusNew,
		},
	}
}

func (b *Builder) Side(side core.OrderSide) *Builder {
	if b.err != nil {
		return b
	}
	b.order.Side = side
	return b
}

func (b *Builder) Buy() *Builder  { return b.Side(core.SideBuy) }
func (b *Builder) Sell() *Builder { return b.Side(core.SideSell) }

func (b *Builder) Type(orderType core.OrderType) *Builder {
	if b.err != nil {
		return b
	}
	b.order.Type = orderType
	return b
}

func (b *Builder) Market() *Builder     { return b.Type(core.TypeMarket) }
func (b *Builder) Limit() *Builder      { return b.Type(core.TypeLimit) }
func (b *Builder) LimitMaker() *Builder { return b.Type(core.TypeLimitMaker) }
func (b *Builder) StopLoss() *Builder   { return b.Type(core.TypeStopLoss) }

func (b *Builder) StopLossLimit() *Builder {
	return b.Type(core.TypeStopLossLimit)
}

func (b *Builder) TakeProfit() *Builder {
	return b.Type(core.TypeTakeProfit)
}

func (b *Builder) TakeProfitLimit() *Builder {
	return b.Type(core.TypeTakeProfitLimit)
}

// Price sets the limit price from its decimal text.
func (b *Builder) Price(price string) *Builder {
	return b.parse(&b.order.Price, "price", price)
}

func (b *Builder) PriceDecimal(price apd.Decimal) *Builder {
	if b.err == nil {
		b.order.Price.Set(&price)
	}
	return b
}

// StopPrice sets the trigger price of stop and take-profit orders.
func (b *Builder) StopPrice(price string) *Builder {
	return b.parse(&b.order.StopPrice, "stop price", price)
}

func (b *Builder) Quantity(qty string) *Builder {
	return b.parse(&b.order.Quantity, "quantity", qty)
}

func (b *Builder) QuantityDecimal(qty apd.Decimal) *Builder {
	if b.err == nil {
		b.order.Quantity.Set(&qty)
	}
	return b
}

func (b *Builder) TimeInForce(tif core.TimeInForce) *Builder {
	if b.err != nil {
		return b
	}
	b.order.TimeInForce = tif
	return b
}

func (b *Builder) GTC() *Builder { return b.TimeInForce(core.GTC) }
func (b *Builder) IOC() *Builder { return b.TimeInForce(core.IOC) }
func (b *Builder) FOK() *Builder { return b.TimeInForce(core.FOK) }

// ClientOrderID sets the id used to reconcile an order whose outcome is
// unknown. Build generates one when it is left empty.
func (b *Builder) ClientOrderID(id string) *Builder {
	if b.err != nil {
		return b
	}
	b.order.ClientOrderID = id
	return b
}

// Build validates and returns the order.
func (b *Builder) Build() (*core.Order, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.order.ClientOrderID == "" {
		b.order.ClientOrderID = NewClientOrderID()
	}
	if err := Validate(b.order); err != nil {
		return nil, err
	}
	return b.order, nil
}

func (b *Builder) parse(dst *apd.Decimal, field, text string) *Builder {
	if b.err != nil {
		return b
	}
	if _, _, err := dst.SetString(text); err != nil {
		b.err = fmt.Errorf("parse %s: %w", field, err)
	}
	return b
}

// fields holds the parts of an order checked by struct tags. Binance accepts
// client order ids matching ^[.A-Z:/a-z0-9_-]{1,36}$.
type fields struct {
	Symbol        string `validate:"required,max=20"`
	ClientOrderID string `validate:"omitempty,max=36,excludesall= \t"`
	Side          int    `validate:"min=0,max=1"`
	Type          int    `validate:"min=0,max=6"`
	TimeInForce   int    `validate:"min=0,max=2"`
}

// Validate checks an order before it is sent.
func Validate(o *core.Order) error {
	if o == nil {
		return errors.New("order is required")
	}

	err := validate.Struct(fields{
		Symbol:        o.Symbol,
		ClientOrderID: o.ClientOrderID,
		Side:          int(o.Side),
		Type:          int(o.Type),
		TimeInForce:   int(o.TimeInForce),
	})
	if err != nil {
		return fmt.Errorf("invalid order: %w", err)
	}

	if !positive(&o.Quantity) {
		return errors.New("quantity must be positive")
	}
	if o.Type.RequiresPrice() && !positive(&o.Price) {
		return fmt.Errorf("price must be positive for %s orders", o.Type)
	}
	if o.Type.RequiresStopPrice() && !positive(&o.StopPrice) {
		return fmt.Errorf("stop price must be positive for %s orders", o.Type)
	}
	return nil
}

func positive(d *apd.Decimal) bool {
	return d.Form == apd.Finite && !d.IsZero() && !d.Negative
}
