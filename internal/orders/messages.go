// Package orders is the order-fulfilment domain hosted by the consumer
// service: an order saga plus a scoped audit trail of every delivery.
package orders

const (
	MessageOrderSubmitted  = "order.submitted"
	MessagePaymentAccepted = "payment.accepted"
	MessageOrderShipped    = "order.shipped"
	MessageOrderCancelled  = "order.cancelled"
)

type OrderSubmitted struct {
	CustomerID string  `json:"customer_id"`
	Total      float64 `json:"total"`
	Currency   string  `json:"currency"`
	Items      int     `json:"items"`
}

type PaymentAccepted struct {
	PaymentID string  `json:"payment_id"`
	Amount    float64 `json:"amount"`
}

type OrderShipped struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
}

type OrderCancelled struct {
	Reason string `json:"reason"`
}
