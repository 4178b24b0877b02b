package order

import (
	"context"

	"github.com/GriffinCanCode/orderflow/internal/infrastructure/database"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	upsertBuyerSQL = `INSERT INTO ordering.buyers (identityguid) VALUES ($1)
ON CONFLICT (identityguid) DO UPDATE SET identityguid = EXCLUDED.identityguid
RETURNING id`

	insertOrderSQL = `INSERT INTO ordering.orders
    (orderid, ordernumber, orderdate, description, amount, orderstatusid, buyerid, correlationid,
     address_street, address_city, address_state, address_country, address_zipcode)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING id`

	insertItemSQL = `INSERT INTO ordering.orderitems (orderid, productname, units, unitprice, pictureurl)
VALUES ($1, $2, $3, $4, $5)`

	updateOrderSQL = `UPDATE ordering.orders
SET description = $2, orderstatusid = $3,
    address_street = $4, address_city = $5, address_state = $6, address_country = $7, address_zipcode = $8
WHERE id = $1`

	markStatusSQL = `UPDATE ordering.orders SET orderstatusid = $2 WHERE orderid = $1`

	selectOrderSQL = `SELECT o.orderid, o.ordernumber, o.orderdate, o.description, o.amount, o.orderstatusid,
       COALESCE(b.identityguid, '00000000-0000-0000-0000-000000000000'::uuid), o.correlationid,
       o.address_street, o.address_city, o.address_state, o.address_country, o.address_zipcode
FROM ordering.orders o
LEFT JOIN ordering.buyers b ON o.buyerid = b.id
WHERE o.id = $1`

	selectItemsSQL = `SELECT productname, units, unitprice, pictureurl
FROM ordering.orderitems WHERE orderid = $1 ORDER BY id`
)

// Repository is the write side of the ordering store. Writes are queued on
// the unit of work and reach the database on SaveChanges or Commit.
type Repository struct {
	uow *database.UnitOfWork
}

// NewRepository binds a repository to uow.
func NewRepository(uow *database.UnitOfWork) *Repository {
	return &Repository{uow: uow}
}

// UnitOfWork returns the unit of work the repository writes through.
func (r *Repository) UnitOfWork() *database.UnitOfWork {
	return r.uow
}

// Add queues an insert of o. o.ID is set once the insert runs.
func (r *Repository) Add(o *Order) error {
	if o == nil {
		return errors.Mark(errors.New("nil order"), ErrInvalid)
	}
	if err := o.Validate(); err != nil {
		return err
	}
	r.uow.Register(func(ctx context.Context, q database.Querier) error {
		return insertOrder(ctx, q, o)
	})
	return nil
}

// Update queues a write of the mutable fields of o.
func (r *Repository) Update(o *Order) error {
	if o == nil || o.ID == 0 {
		return errors.Mark(errors.New("update requires a stored order"), ErrInvalid)
	}
	if err := o.Validate(); err != nil {
		return err
	}
	r.uow.Register(func(ctx context.Context, q database.Querier) error {
		tag, err := q.Exec(ctx, updateOrderSQL, o.ID, o.Description, o.Status.ID(),
			o.Address.Street, o.Address.City, o.Address.State, o.Address.Country, o.Address.ZipCode)
		if err != nil {
			return errors.Wrapf(err, "update order %d", o.ID)
		}
		if tag.RowsAffected() == 0 {
			return errors.Wrapf(ErrNotFound, "update order %d", o.ID)
		}
		return nil
	})
	return nil
}

// MarkStatus queues a status change of the order identified by its
// business id.
func (r *Repository) MarkStatus(orderID uuid.UUID, status Status) error {
	if orderID == uuid.Nil {
		return errors.Mark(errors.New("mark status requires an order id"), ErrInvalid)
	}
	if status.ID() == 0 {
		return errors.Mark(errors.Newf("unknown status %q", status), ErrInvalid)
	}
	r.uow.Register(func(ctx context.Context, q database.Querier) error {
		tag, err := q.Exec(ctx, markStatusSQL, orderID, status.ID())
		if err != nil {
			return errors.Wrapf(err, "mark order %s %s", orderID, status)
		}
		if tag.RowsAffected() == 0 {
			return errors.Wrapf(ErrNotFound, "mark order %s", orderID)
		}
		return nil
	})
	return nil
}

// Get loads an order with its items. It reads through the active
// transaction, so writes already flushed in it are visible.
func (r *Repository) Get(ctx context.Context, id int64) (*Order, error) {
	q := r.uow.Querier()

	o := &Order{ID: id}
	var statusID int
	err := q.QueryRow(ctx, selectOrderSQL, id).Scan(
		&o.OrderID, &o.Number, &o.Date, &o.Description, &o.Amount, &statusID,
		&o.BuyerID, &o.CorrelationID,
		&o.Address.Street, &o.Address.City, &o.Address.State, &o.Address.Country, &o.Address.ZipCode,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(ErrNotFound, "order %d", id)
		}
		return nil, errors.Wrapf(err, "load order %d", id)
	}
	o.Status, _ = StatusFromID(statusID)

	rows, err := q.Query(ctx, selectItemsSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "load items of order %d", id)
	}
	o.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Item, error) {
		var it Item
		err := row.Scan(&it.ProductName, &it.Units, &it.UnitPrice, &it.PictureURL)
		return it, err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan items of order %d", id)
	}
	return o, nil
}

func insertOrder(ctx context.Context, q database.Querier, o *Order) error {
	var buyerID *int32
	if o.BuyerID != uuid.Nil {
		var bid int32
		if err := q.QueryRow(ctx, upsertBuyerSQL, o.BuyerID).Scan(&bid); err != nil {
			return errors.Wrapf(err, "upsert buyer %s", o.BuyerID)
		}
		buyerID = &bid
	}

	err := q.QueryRow(ctx, insertOrderSQL,
		o.OrderID, o.Number, o.Date, o.Description, o.Amount, o.Status.ID(), buyerID, o.CorrelationID,
		o.Address.Street, o.Address.City, o.Address.State, o.Address.Country, o.Address.ZipCode,
	).Scan(&o.ID)
	if err != nil {
		return errors.Wrapf(err, "insert order %s", o.OrderID)
	}

	for i, it := range o.Items {
		if _, err := q.Exec(ctx, insertItemSQL, o.ID, it.ProductName, it.Units, it.UnitPrice, it.PictureURL); err != nil {
			return errors.Wrapf(err, "insert item %d of order %d", i, o.ID)
		}
	}
	return nil
}
