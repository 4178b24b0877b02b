package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusSubmitted          Status = "submitted"
	StatusAwaitingValidation Status = "awaitingvalidation"
	StatusStockConfirmed     Status = "stockconfirmed"
	StatusPaid               Status = "paid"
	StatusShipped            Status = "shipped"
	StatusCancelled          Status = "cancelled"
)

// statusIDs mirrors the seeded ordering.orderstatus rows.
var statusIDs = map[Status]int{
	StatusSubmitted:          1,
	StatusAwaitingValidation: 2,
	StatusStockConfirmed:     3,
	StatusPaid:               4,
	StatusShipped:            5,
	StatusCancelled:          6,
}

// ID returns the orderstatus row id, or 0 for an unknown status.
func (s Status) ID() int {
	return statusIDs[s]
}

// StatusFromID maps an orderstatus row id back to a Status.
func StatusFromID(id int) (Status, bool) {
	for s, sid := range statusIDs {
		if sid == id {
			return s, true
		}
	}
	return "", false
}

// Address is where an order ships.
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
	ZipCode string `json:"zipcode"`
}

// Item is one order line.
type Item struct {
	ProductName string  `json:"productName"`
	Units       int     `json:"units"`
	UnitPrice   float64 `json:"unitPrice"`
	PictureURL  string  `json:"pictureUrl,omitempty"`
}

// Order is the ordering aggregate.
type Order struct {
	// ID is assigned by the store on insert.
	ID            int64
	OrderID       uuid.UUID
	Number        string
	Amount        float64
	Date          time.Time
	Description   string
	Status        Status
	BuyerID       uuid.UUID
	CorrelationID string
	Address       Address
	Items         []Item
}

// New creates a submitted order with a fresh identity.
func New(number string, amount float64) *Order {
	return &Order{
		OrderID: uuid.New(),
		Number:  strings.TrimSpace(number),
		Amount:  amount,
		Date:    time.Now().UTC(),
		Status:  StatusSubmitted,
	}
}

// Total sums the order lines.
func (o *Order) Total() float64 {
	var total float64
	for _, it := range o.Items {
		total += float64(it.Units) * it.UnitPrice
	}
	return total
}

// Validate checks the aggregate before it is stored or sent.
func (o *Order) Validate() error {
	var problems []string
	if o.Number == "" {
		problems = append(problems, "order number is required")
	}
	if len(o.Number) > 50 {
		problems = append(problems, "order number exceeds 50 characters")
	}
	if o.Amount <= 0 {
		problems = append(problems, "order amount must be positive")
	}
	if o.Status.ID() == 0 {
		problems = append(problems, "unknown status "+string(o.Status))
	}
	for i, it := range o.Items {
		if strings.TrimSpace(it.ProductName) == "" {
			problems = append(problems, fmt.Sprintf("item %d: product name is required", i))
		}
		if it.Units <= 0 {
			problems = append(problems, fmt.Sprintf("item %d: units must be positive", i))
		}
		if it.UnitPrice < 0 {
			problems = append(problems, fmt.Sprintf("item %d: unit price must not be negative", i))
		}
	}
	if len(problems) > 0 {
		return errors.Mark(errors.Newf("invalid order: %s", strings.Join(problems, "; ")), ErrInvalid)
	}
	return nil
}
