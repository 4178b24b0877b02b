package order

import (
	"context"
	"reflect"
	"slices"
	"time"

	"github.com/GriffinCanCode/orderflow/internal/infrastructure/database"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// orderLineRow is one row of the order-with-items join. Item columns are
// nullable because an order may have no lines.
type orderLineRow struct {
	OrderNumber int64     `db:"ordernumber"`
	Date        time.Time `db:"date"`
	Description string    `db:"description"`
	City        string    `db:"city"`
	Country     string    `db:"country"`
	State       string    `db:"state"`
	Street      string    `db:"street"`
	ZipCode     string    `db:"zipcode"`
	Status      string    `db:"status"`
	ProductName *string   `db:"productname"`
	Units       *int32    `db:"units"`
	UnitPrice   *float64  `db:"unitprice"`
	PictureURL  *string   `db:"pictureurl"`
}

const getOrderSQL = `SELECT o.id AS ordernumber, o.orderdate AS date, o.description AS description,
       o.address_city AS city, o.address_country AS country, o.address_state AS state,
       o.address_street AS street, o.address_zipcode AS zipcode,
       COALESCE(os.name, '') AS status,
       oi.productname AS productname, oi.units AS units, oi.unitprice AS unitprice,
       oi.pictureurl AS pictureurl
FROM ordering.orders o
LEFT JOIN ordering.orderitems oi ON o.id = oi.orderid
LEFT JOIN ordering.orderstatus os ON o.orderstatusid = os.id
WHERE o.id = $1
ORDER BY oi.id`

const ordersFromUserSQL = `SELECT o.id AS ordernumber, o.orderdate AS date, COALESCE(os.name, '') AS status,
       COALESCE(SUM(oi.units * oi.unitprice), 0)::float8 AS total
FROM ordering.orders o
LEFT JOIN ordering.orderitems oi ON o.id = oi.orderid
LEFT JOIN ordering.orderstatus os ON o.orderstatusid = os.id
LEFT JOIN ordering.buyers ob ON o.buyerid = ob.id
WHERE ob.identityguid = $1
GROUP BY o.id, o.orderdate, os.name
ORDER BY o.id`

const cardTypesSQL = `SELECT id, name FROM ordering.cardtypes ORDER BY id`

// View is an order as returned by GetOrder.
type View struct {
	OrderNumber int64      `json:"ordernumber"`
	Date        time.Time  `json:"date"`
	Status      string     `json:"status"`
	Description string     `json:"description"`
	Street      string     `json:"street"`
	City        string     `json:"city"`
	State       string     `json:"state"`
	ZipCode     string     `json:"zipcode"`
	Country     string     `json:"country"`
	Items       []ItemView `json:"orderitems"`
	Total       float64    `json:"total"`
}

// ItemView is one line of a View.
type ItemView struct {
	ProductName string  `json:"productname"`
	Units       int     `json:"units"`
	UnitPrice   float64 `json:"unitprice"`
	PictureURL  string  `json:"pictureurl"`
}

// Summary is one row of a buyer's order list.
type Summary struct {
	OrderNumber int64     `db:"ordernumber" json:"ordernumber"`
	Date        time.Time `db:"date" json:"date"`
	Status      string    `db:"status" json:"status"`
	Total       float64   `db:"total" json:"total"`
}

// CardType is a payment card brand.
type CardType struct {
	ID   int32  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// columnContracts pairs each row type with the columns its query selects.
var columnContracts = []struct {
	name    string
	row     any
	columns []string
}{
	{"GetOrder", orderLineRow{}, []string{
		"ordernumber", "date", "description", "city", "country", "state", "street", "zipcode",
		"status", "productname", "units", "unitprice", "pictureurl",
	}},
	{"GetOrdersFromUser", Summary{}, []string{"ordernumber", "date", "status", "total"}},
	{"GetCardTypes", CardType{}, []string{"id", "name"}},
}

// ValidateColumnContracts checks that every read-model row type maps
// exactly onto the columns its query selects. A mismatch would otherwise
// only surface as a scan error at request time.
func ValidateColumnContracts() error {
	var errs error
	for _, c := range columnContracts {
		tags := dbTags(reflect.TypeOf(c.row))
		want := slices.Clone(c.columns)
		slices.Sort(tags)
		slices.Sort(want)
		if !slices.Equal(tags, want) {
			errs = errors.CombineErrors(errs, errors.Newf("%s: row fields %v do not match columns %v", c.name, tags, want))
		}
	}
	return errs
}

func dbTags(t reflect.Type) []string {
	tags := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if tag := t.Field(i).Tag.Get("db"); tag != "" && tag != "-" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// Queries is the read side of the ordering store.
type Queries struct {
	db database.Querier
}

// NewQueries creates the read side over db after checking column contracts.
func NewQueries(db database.Querier) (*Queries, error) {
	if err := ValidateColumnContracts(); err != nil {
		return nil, err
	}
	return &Queries{db: db}, nil
}

// GetOrder returns the order with the given number and its lines.
func (q *Queries) GetOrder(ctx context.Context, id int64) (*View, error) {
	rows, err := q.db.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "query order %d", id)
	}
	lines, err := pgx.CollectRows(rows, pgx.RowToStructByName[orderLineRow])
	if err != nil {
		return nil, errors.Wrapf(err, "scan order %d", id)
	}
	if len(lines) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "order %d", id)
	}
	return viewFromLines(lines), nil
}

func viewFromLines(lines []orderLineRow) *View {
	first := lines[0]
	v := &View{
		OrderNumber: first.OrderNumber,
		Date:        first.Date,
		Status:      first.Status,
		Description: first.Description,
		Street:      first.Street,
		City:        first.City,
		State:       first.State,
		ZipCode:     first.ZipCode,
		Country:     first.Country,
		Items:       make([]ItemView, 0, len(lines)),
	}
	for _, l := range lines {
		if l.ProductName == nil {
			continue
		}
		it := ItemView{ProductName: *l.ProductName}
		if l.Units != nil {
			it.Units = int(*l.Units)
		}
		if l.UnitPrice != nil {
			it.UnitPrice = *l.UnitPrice
		}
		if l.PictureURL != nil {
			it.PictureURL = *l.PictureURL
		}
		v.Total += float64(it.Units) * it.UnitPrice
		v.Items = append(v.Items, it)
	}
	return v
}

// GetOrdersFromUser lists the orders of a buyer.
func (q *Queries) GetOrdersFromUser(ctx context.Context, buyer uuid.UUID) ([]Summary, error) {
	rows, err := q.db.Query(ctx, ordersFromUserSQL, buyer)
	if err != nil {
		return nil, errors.Wrapf(err, "query orders of buyer %s", buyer)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[Summary])
	if err != nil {
		return nil, errors.Wrapf(err, "scan orders of buyer %s", buyer)
	}
	return out, nil
}

// GetCardTypes lists the accepted card brands.
func (q *Queries) GetCardTypes(ctx context.Context) ([]CardType, error) {
	rows, err := q.db.Query(ctx, cardTypesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "query card types")
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[CardType])
	if err != nil {
		return nil, errors.Wrap(err, "scan card types")
	}
	return out, nil
}
