package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/models"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// sqlDB holds the queries shared by the SQLite and PostgreSQL backends.
// Queries are written with '?' placeholders and rebound for PostgreSQL.
type sqlDB struct {
	db      *sql.DB
	dialect dialect
	name    string
}

func (s *sqlDB) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlDB) exec(query string, args ...interface{}) (sql.Result, error) {
	return s.db.Exec(s.rebind(query), args...)
}

func (s *sqlDB) query(query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.Query(s.rebind(query), args...)
}

func (s *sqlDB) queryRow(query string, args ...interface{}) *sql.Row {
	return s.db.QueryRow(s.rebind(query), args...)
}

// Close closes the underlying database handle.
func (s *sqlDB) Close() error {
	slog.Debug(s.name + ".Close: closing database")
	return s.db.Close()
}

// --- carts ---

const cartColumns = `user_id, items_json, total, state, address, last_interaction, inactivity_job_id, created_at, updated_at`

func (s *sqlDB) GetCart(userID string) (*models.Cart, error) {
	row := s.queryRow(`SELECT `+cartColumns+` FROM carts WHERE user_id = ?`, userID)
	c, err := scanCart(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cart failed: %w", err)
	}
	return c, nil
}

func (s *sqlDB) SaveCart(c models.Cart) error {
	items, err := json.Marshal(c.Items)
	if err != nil {
		return fmt.Errorf("encode cart items failed: %w", err)
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	var lastInteraction interface{}
	if !c.LastInteraction.IsZero() {
		lastInteraction = c.LastInteraction.UTC()
	}
	_, err = s.exec(
		`INSERT INTO carts (`+cartColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		   items_json = excluded.items_json,
		   total = excluded.total,
		   state = excluded.state,
		   address = excluded.address,
		   last_interaction = excluded.last_interaction,
		   inactivity_job_id = excluded.inactivity_job_id,
		   updated_at = excluded.updated_at`,
		c.UserID, string(items), c.Total, string(c.State), nilIfEmpty(c.Address),
		lastInteraction, nilIfEmpty(c.InactivityJobID), c.CreatedAt.UTC(), now,
	)
	if err != nil {
		slog.Error(s.name+".SaveCart failed", "userID", c.UserID, "error", err)
		return fmt.Errorf("save cart for %s failed: %w", c.UserID, err)
	}
	slog.Debug(s.name+".SaveCart", "userID", c.UserID, "state", c.State, "items", len(c.Items))
	return nil
}

func (s *sqlDB) DeleteCart(userID string) error {
	if _, err := s.exec(`DELETE FROM carts WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete cart for %s failed: %w", userID, err)
	}
	return nil
}

func (s *sqlDB) DeleteCartsIdleSince(cutoff time.Time) (int, error) {
	res, err := s.exec(`DELETE FROM carts WHERE updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete idle carts failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqlDB) CountCarts() (int, error) {
	var n int
	if err := s.queryRow(`SELECT COUNT(*) FROM carts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count carts failed: %w", err)
	}
	return n, nil
}

// --- products ---

const productColumns = `id, code, name, price, unit, image_url, active, stock, created_at, updated_at`

func (s *sqlDB) listProducts(query string, args ...interface{}) ([]models.Product, error) {
	rows, err := s.query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products failed: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products failed: %w", err)
	}
	return products, nil
}

func (s *sqlDB) getProduct(query string, args ...interface{}) (*models.Product, error) {
	p, err := scanProduct(s.queryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get product failed: %w", err)
	}
	return p, nil
}

func (s *sqlDB) ListActiveProducts() ([]models.Product, error) {
	return s.listProducts(`SELECT ` + productColumns + ` FROM products WHERE active = ? ORDER BY id ASC`, true)
}

func (s *sqlDB) GetProduct(id int64) (*models.Product, error) {
	return s.getProduct(`SELECT `+productColumns+` FROM products WHERE id = ?`, id)
}

func (s *sqlDB) FindProductByCode(code string) (*models.Product, error) {
	if code == "" {
		return nil, nil
	}
	return s.getProduct(`SELECT `+productColumns+` FROM products WHERE code = ?`, code)
}

func (s *sqlDB) FindProductByName(name string) (*models.Product, error) {
	return s.getProduct(`SELECT `+productColumns+` FROM products WHERE LOWER(name) = LOWER(?) ORDER BY id ASC LIMIT 1`, strings.TrimSpace(name))
}

func (s *sqlDB) CreateProduct(p models.Product) (int64, error) {
	if p.Unit == "" {
		p.Unit = models.DefaultUnit
	}
	now := time.Now().UTC()
	var id int64
	err := s.queryRow(
		`INSERT INTO products (code, name, price, unit, image_url, active, stock, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		nilIfEmpty(p.Code), p.Name, p.Price, p.Unit, nilIfEmpty(p.ImageURL), p.Active, p.Stock, now, now,
	).Scan(&id)
	if err != nil {
		slog.Error(s.name+".CreateProduct failed", "name", p.Name, "error", err)
		return 0, fmt.Errorf("create product %q failed: %w", p.Name, err)
	}
	slog.Debug(s.name+".CreateProduct", "id", id, "name", p.Name)
	return id, nil
}

func (s *sqlDB) UpdateProduct(p models.Product) error {
	if p.Unit == "" {
		p.Unit = models.DefaultUnit
	}
	res, err := s.exec(
		`UPDATE products SET code = ?, name = ?, price = ?, unit = ?, image_url = ?, active = ?, stock = ?, updated_at = ?
		 WHERE id = ?`,
		nilIfEmpty(p.Code), p.Name, p.Price, p.Unit, nilIfEmpty(p.ImageURL), p.Active, p.Stock, time.Now().UTC(), p.ID,
	)
	if err != nil {
		return fmt.Errorf("update product %d failed: %w", p.ID, err)
	}
	return requireAffected(res)
}

func (s *sqlDB) DeactivateProduct(id int64) error {
	res, err := s.exec(`UPDATE products SET active = ?, updated_at = ? WHERE id = ?`, false, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("deactivate product %d failed: %w", id, err)
	}
	return requireAffected(res)
}

// --- orders ---

const orderColumns = `id, phone_number, items_json, total, address, status, created_at, updated_at`

func (s *sqlDB) CreateOrder(o models.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode order items failed: %w", err)
	}
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	_, err = s.exec(
		`INSERT INTO orders (`+orderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.PhoneNumber, string(items), o.Total, nilIfEmpty(o.Address), string(o.Status), o.CreatedAt.UTC(), now,
	)
	if err != nil {
		slog.Error(s.name+".CreateOrder failed", "id", o.ID, "error", err)
		return fmt.Errorf("create order %s failed: %w", o.ID, err)
	}
	slog.Debug(s.name+".CreateOrder", "id", o.ID, "phone", o.PhoneNumber, "total", o.Total)
	return nil
}

func (s *sqlDB) GetOrder(id string) (*models.Order, error) {
	o, err := scanOrder(s.queryRow(`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order failed: %w", err)
	}
	return o, nil
}

func (s *sqlDB) ListOrders() ([]models.Order, error) {
	rows, err := s.query(`SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query orders failed: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders failed: %w", err)
	}
	return orders, nil
}

func (s *sqlDB) UpdateOrderStatus(id string, status models.OrderStatus) error {
	res, err := s.exec(`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update order %s status failed: %w", id, err)
	}
	return requireAffected(res)
}

// --- conversation turns ---

func (s *sqlDB) AppendTurn(userID string, turn models.ConversationTurn) error {
	ts := turn.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.exec(
		`INSERT INTO conversation_turns (user_id, sender, content, sentiment, created_at) VALUES (?, ?, ?, ?, ?)`,
		userID, string(turn.Sender), turn.Content, nilIfEmpty(string(turn.Sentiment)), ts.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append turn for %s failed: %w", userID, err)
	}
	return nil
}

func (s *sqlDB) RecentTurns(userID string, n int) ([]models.ConversationTurn, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.query(
		`SELECT sender, content, sentiment, created_at FROM conversation_turns
		 WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
		userID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns failed: %w", err)
	}
	defer rows.Close()

	var turns []models.ConversationTurn
	for rows.Next() {
		var t models.ConversationTurn
		var sender string
		var sentiment sql.NullString
		if err := rows.Scan(&sender, &t.Content, &sentiment, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan turn failed: %w", err)
		}
		t.Sender = models.Sender(sender)
		t.Sentiment = models.Sentiment(sentiment.String)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns failed: %w", err)
	}
	// newest-first from the query; callers want oldest-first
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected check failed: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
