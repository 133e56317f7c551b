// Package chat implements the support-chat core: session records, the ordered
// message log with live subscriptions, the open/close lifecycle, the admin
// roster, order lookup and refund submission. All state lives in the document
// store; this package only shapes it and enforces the ordering and lifecycle
// contracts.
package chat

import "github.com/Rnbprasad1/ChatSupport/internal/docstore"

// Chat lifecycle status. Transitions only go open -> closed.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Support types classify why a chat was started.
const (
	SupportRefund  = "refund"
	SupportHelp    = "help"
	SupportContact = "contact"
)

// Refund request status. Only "pending" is written here; approval is an
// external workflow.
const (
	RefundPending  = "pending"
	RefundApproved = "approved"
	RefundRejected = "rejected"
)

// Chat is one support conversation between a customer and admin staff.
type Chat struct {
	ID              string   `json:"id"`
	UserName        string   `json:"userName"`
	Reference       string   `json:"reference"`
	Mobile          string   `json:"mobile"`
	Status          string   `json:"status"`
	SupportType     string   `json:"supportType,omitempty"`
	OrderDetails    *Payment `json:"orderDetails,omitempty"`
	RefundRequestID string   `json:"refundRequestId,omitempty"`
	RefundStatus    string   `json:"refundStatus,omitempty"`
	CreatedAt       int64    `json:"createdAt"`
	ClosedAt        int64    `json:"closedAt,omitempty"`
}

// Message is one immutable entry in a chat's ordered log. Items carries line
// items offered by the admin for selection; SelectedItems carries the subset
// the customer picked.
type Message struct {
	ID            string        `json:"id"`
	Sender        string        `json:"sender"`
	Text          string        `json:"text,omitempty"`
	IsAdmin       bool          `json:"isAdmin"`
	Timestamp     int64         `json:"timestamp"`
	Items         []ProductItem `json:"items,omitempty"`
	SelectedItems []ProductItem `json:"selectedItems,omitempty"`
}

// Payment is the denormalized order record, keyed by order id. Read-only from
// this system's perspective.
type Payment struct {
	OrderID       string        `json:"orderId"`
	CustomerName  string        `json:"customerName"`
	Email         string        `json:"email,omitempty"`
	Phone         string        `json:"phone,omitempty"`
	TotalAmount   float64       `json:"totalAmount"`
	PaymentStatus string        `json:"paymentStatus"`
	Items         []ProductItem `json:"items,omitempty"`
}

// ProductItem is one product entry within an order.
type ProductItem struct {
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
}

// RefundItem is a product entry within a refund request, with the customer's
// selection and the computed refund amount.
type RefundItem struct {
	ProductItem
	Selected     bool    `json:"selected"`
	RefundAmount float64 `json:"refundAmount"`
}

// RefundRequest records one refund initiation. Status moves past "pending"
// only through the out-of-scope approval workflow.
type RefundRequest struct {
	ID                string       `json:"id"`
	OrderID           string       `json:"orderId"`
	CustomerName      string       `json:"customerName"`
	Items             []RefundItem `json:"items,omitempty"`
	TotalRefundAmount float64      `json:"totalRefundAmount"`
	Status            string       `json:"status"`
	Reason            string       `json:"reason"`
	CreatedAt         int64        `json:"createdAt"`
	UpdatedAt         int64        `json:"updatedAt"`
}

// --- document codecs ---
//
// The store holds untyped map payloads; everything crossing the component
// boundary is decoded into the structs above. Decoders are lenient about
// numeric width because JSON round-trips land as float64.

func chatFromDoc(doc docstore.Document) Chat {
	c := Chat{
		ID:              doc.ID,
		UserName:        str(doc.Data["userName"]),
		Reference:       str(doc.Data["reference"]),
		Mobile:          str(doc.Data["mobile"]),
		Status:          str(doc.Data["status"]),
		SupportType:     str(doc.Data["supportType"]),
		RefundRequestID: str(doc.Data["refundRequestId"]),
		RefundStatus:    str(doc.Data["refundStatus"]),
		CreatedAt:       i64(doc.Data["createdAt"]),
		ClosedAt:        i64(doc.Data["closedAt"]),
	}
	if c.CreatedAt == 0 {
		c.CreatedAt = doc.ServerTime
	}
	if raw, ok := doc.Data["orderDetails"].(map[string]any); ok {
		p := paymentFromData(raw)
		c.OrderDetails = &p
	}
	return c
}

func messageFromDoc(doc docstore.Document) Message {
	m := Message{
		ID:        doc.ID,
		Sender:    str(doc.Data["sender"]),
		Text:      str(doc.Data["text"]),
		IsAdmin:   boolean(doc.Data["isAdmin"]),
		Timestamp: i64(doc.Data["timestamp"]),
	}
	if m.Timestamp == 0 {
		m.Timestamp = doc.ServerTime
	}
	m.Items = productItems(doc.Data["items"])
	m.SelectedItems = productItems(doc.Data["selectedItems"])
	return m
}

func paymentFromData(data map[string]any) Payment {
	return Payment{
		OrderID:       str(data["orderId"]),
		CustomerName:  str(data["customerName"]),
		Email:         str(data["email"]),
		Phone:         str(data["phone"]),
		TotalAmount:   f64(data["totalAmount"]),
		PaymentStatus: str(data["paymentStatus"]),
		Items:         productItems(data["items"]),
	}
}

func paymentToData(p Payment) map[string]any {
	return map[string]any{
		"orderId":       p.OrderID,
		"customerName":  p.CustomerName,
		"email":         p.Email,
		"phone":         p.Phone,
		"totalAmount":   p.TotalAmount,
		"paymentStatus": p.PaymentStatus,
		"items":         productItemsToData(p.Items),
	}
}

func productItems(v any) []ProductItem {
	raw, ok := v.([]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	items := make([]ProductItem, 0, len(raw))
	for _, entry := range raw {
		data, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		items = append(items, ProductItem{
			ProductID:   str(data["productId"]),
			ProductName: str(data["productName"]),
			Quantity:    int(i64(data["quantity"])),
			Price:       f64(data["price"]),
		})
	}
	return items
}

func productItemsToData(items []ProductItem) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]any{
			"productId":   item.ProductID,
			"productName": item.ProductName,
			"quantity":    item.Quantity,
			"price":       item.Price,
		})
	}
	return out
}

func refundItemsToData(items []RefundItem) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]any{
			"productId":    item.ProductID,
			"productName":  item.ProductName,
			"quantity":     item.Quantity,
			"price":        item.Price,
			"selected":     item.Selected,
			"refundAmount": item.RefundAmount,
		})
	}
	return out
}

func refundFromDoc(doc docstore.Document) RefundRequest {
	r := RefundRequest{
		ID:                doc.ID,
		OrderID:           str(doc.Data["orderId"]),
		CustomerName:      str(doc.Data["customerName"]),
		TotalRefundAmount: f64(doc.Data["totalRefundAmount"]),
		Status:            str(doc.Data["status"]),
		Reason:            str(doc.Data["reason"]),
		CreatedAt:         i64(doc.Data["createdAt"]),
		UpdatedAt:         i64(doc.Data["updatedAt"]),
	}
	if raw, ok := doc.Data["items"].([]any); ok {
		for _, entry := range raw {
			data, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			r.Items = append(r.Items, RefundItem{
				ProductItem: ProductItem{
					ProductID:   str(data["productId"]),
					ProductName: str(data["productName"]),
					Quantity:    int(i64(data["quantity"])),
					Price:       f64(data["price"]),
				},
				Selected:     boolean(data["selected"]),
				RefundAmount: f64(data["refundAmount"]),
			})
		}
	}
	return r
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func boolean(v any) bool {
	b, _ := v.(bool)
	return b
}

func i64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func f64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}
