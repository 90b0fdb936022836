package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lib/pq"

	"pricewatch/models"
	"pricewatch/utils"
)

// notifyChannel is the LISTEN/NOTIFY channel carrying committed changes.
const notifyChannel = "pricewatch_changes"

// PostgresStore is a Backend on PostgreSQL. Vote updates are conditional on
// the row's version column; change notices are sent with pg_notify inside
// the writing transaction so they are delivered only on commit.
type PostgresStore struct {
	db       *sql.DB
	hub      *Hub
	listener *pgListener
	logger   *utils.Logger

	// uniqueNames[table] is false when legacy duplicate names kept the
	// unique index from being built.
	uniqueNames map[string]bool
}

// NewPostgresStore opens a connection to PostgreSQL, waits for it to accept
// pings, runs schema migrations and starts the change listener.
func NewPostgresStore(ctx context.Context, dsn string, retry *utils.RetryConfig, logger *utils.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	err = retry.Do(ctx, "postgres ping", func(int) error {
		return db.PingContext(ctx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: %w: %w", ErrUnavailable, err)
	}

	ps := &PostgresStore{db: db, hub: NewHub(), logger: logger.With("postgres"), uniqueNames: map[string]bool{}}
	if err := ps.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	ps.listener, err = startListener(dsn, ps.hub, ps.logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return ps, nil
}

func (ps *PostgresStore) migrate(ctx context.Context) error {
	_, err := ps.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS products (
			id          TEXT         PRIMARY KEY,
			name        TEXT         NOT NULL,
			brand       TEXT         NOT NULL DEFAULT '',
			category    TEXT         NOT NULL DEFAULT '',
			barcode     TEXT         NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS stores (
			id          TEXT         PRIMARY KEY,
			name        TEXT         NOT NULL,
			address     TEXT         NOT NULL DEFAULT '',
			latitude    DOUBLE PRECISION,
			longitude   DOUBLE PRECISION,
			created_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS prices (
			id          TEXT          PRIMARY KEY,
			user_id     TEXT          NOT NULL,
			product_id  TEXT          NOT NULL REFERENCES products(id),
			store_id    TEXT          NOT NULL REFERENCES stores(id),
			price       NUMERIC(12,2) NOT NULL CHECK (price > 0),
			created_at  TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
			verified    BOOLEAN       NOT NULL DEFAULT FALSE,
			upvotes     TEXT[]        NOT NULL DEFAULT '{}',
			downvotes   TEXT[]        NOT NULL DEFAULT '{}',
			vote_score  INTEGER       NOT NULL DEFAULT 0,
			version     BIGINT        NOT NULL DEFAULT 0,
			CHECK (vote_score = cardinality(upvotes) - cardinality(downvotes)),
			CHECK (NOT (upvotes && downvotes))
		);
		CREATE INDEX IF NOT EXISTS idx_prices_product ON prices(product_id);
		CREATE INDEX IF NOT EXISTS idx_prices_store   ON prices(store_id);

		CREATE TABLE IF NOT EXISTS comments (
			id              TEXT         PRIMARY KEY,
			price_id        TEXT         NOT NULL REFERENCES prices(id),
			user_id         TEXT         NOT NULL,
			user_name       TEXT         NOT NULL DEFAULT '',
			user_photo_url  TEXT         NOT NULL DEFAULT '',
			text            TEXT         NOT NULL,
			created_at      TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_comments_price ON comments(price_id, created_at, id);
	`)
	if err != nil {
		return err
	}

	for _, table := range []string{"products", "stores"} {
		if err := ps.ensureUniqueName(ctx, table); err != nil {
			return err
		}
	}
	return nil
}

// ensureUniqueName builds the unique name index for table. Existing
// duplicate names are kept: the index is skipped, a lookup index is built
// instead and inserts stop relying on ON CONFLICT.
func (ps *PostgresStore) ensureUniqueName(ctx context.Context, table string) error {
	_, err := ps.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_name ON %s(name)`, table, table))
	err = classify("unique index on "+table, err)
	switch {
	case err == nil:
		ps.uniqueNames[table] = true
		return nil
	case errors.Is(err, ErrDuplicate):
		ps.logger.Warn("%s holds duplicate names, resolving them oldest first without a unique index", table)
		ps.uniqueNames[table] = false
		_, err = ps.db.ExecContext(ctx, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_%s_name_lookup ON %s(name, created_at, id)`, table, table))
		return err
	}
	return err
}

// onConflictName is the insert suffix for table.
func (ps *PostgresStore) onConflictName(table string) string {
	if ps.uniqueNames[table] {
		return "ON CONFLICT (name) DO NOTHING"
	}
	return ""
}

func (ps *PostgresStore) FindProductsByName(ctx context.Context, name string) ([]*models.Product, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT id, name, brand, category, barcode, created_at, updated_at
		FROM products
		WHERE name = $1
		ORDER BY created_at, id
	`, name)
	if err != nil {
		return nil, classify("find products", err)
	}
	defer rows.Close()

	var out []*models.Product
	for rows.Next() {
		p := &models.Product{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Brand, &p.Category, &p.Barcode, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, classify("find products", rows.Err())
}

// InsertProduct returns ErrDuplicate when another writer already holds the
// name and the unique name index exists.
func (ps *PostgresStore) InsertProduct(ctx context.Context, p *models.Product) error {
	res, err := ps.db.ExecContext(ctx, `
		INSERT INTO products (id, name, brand, category, barcode, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`+ps.onConflictName("products"), p.ID, p.Name, p.Brand, p.Category, p.Barcode, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return classify("insert product", err)
	}
	return requireInserted(res, "products", p.Name)
}

func (ps *PostgresStore) FindStoresByName(ctx context.Context, name string) ([]*models.Store, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT id, name, address, latitude, longitude, created_at
		FROM stores
		WHERE name = $1
		ORDER BY created_at, id
	`, name)
	if err != nil {
		return nil, classify("find stores", err)
	}
	defer rows.Close()

	var out []*models.Store
	for rows.Next() {
		s := &models.Store{}
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&s.ID, &s.Name, &s.Address, &lat, &lng, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan store: %w", err)
		}
		if lat.Valid && lng.Valid {
			s.Latitude, s.Longitude = &lat.Float64, &lng.Float64
		}
		out = append(out, s)
	}
	return out, classify("find stores", rows.Err())
}

func (ps *PostgresStore) InsertStore(ctx context.Context, s *models.Store) error {
	var lat, lng sql.NullFloat64
	if s.Latitude != nil && s.Longitude != nil {
		lat = sql.NullFloat64{Float64: *s.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: *s.Longitude, Valid: true}
	}
	res, err := ps.db.ExecContext(ctx, `
		INSERT INTO stores (id, name, address, latitude, longitude, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`+ps.onConflictName("stores"), s.ID, s.Name, s.Address, lat, lng, s.CreatedAt)
	if err != nil {
		return classify("insert store", err)
	}
	return requireInserted(res, "stores", s.Name)
}

func (ps *PostgresStore) InsertPrice(ctx context.Context, p *models.PriceReport) error {
	_, err := ps.db.ExecContext(ctx, `
		INSERT INTO prices (id, user_id, product_id, store_id, price, created_at, verified,
			upvotes, downvotes, vote_score, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, p.ID, p.UserID, p.ProductID, p.StoreID, p.Price, p.CreatedAt, p.Verified,
		pq.Array(nonNil(p.Upvotes)), pq.Array(nonNil(p.Downvotes)), p.VoteScore, p.Version)
	return classify("insert price", err)
}

const priceColumns = `id, user_id, product_id, store_id, price, created_at, verified,
	upvotes, downvotes, vote_score, version`

func scanPrice(row interface{ Scan(...any) error }) (*models.PriceReport, error) {
	p := &models.PriceReport{}
	err := row.Scan(&p.ID, &p.UserID, &p.ProductID, &p.StoreID, &p.Price, &p.CreatedAt, &p.Verified,
		pq.Array(&p.Upvotes), pq.Array(&p.Downvotes), &p.VoteScore, &p.Version)
	if err != nil {
		return nil, err
	}
	p.Upvotes, p.Downvotes = nonNil(p.Upvotes), nonNil(p.Downvotes)
	return p, nil
}

func (ps *PostgresStore) GetPrice(ctx context.Context, id string) (*models.PriceReport, error) {
	p, err := scanPrice(ps.db.QueryRowContext(ctx, `SELECT `+priceColumns+` FROM prices WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("postgres: prices/%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, classify("get price", err)
	}
	return p, nil
}

func (ps *PostgresStore) UpdateVotes(ctx context.Context, id string, expectedVersion int64, tally models.VoteTally) (int64, error) {
	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify("begin vote update", err)
	}
	defer tx.Rollback()

	var version int64
	err = tx.QueryRowContext(ctx, `
		UPDATE prices
		SET upvotes = $1, downvotes = $2, vote_score = $3, version = version + 1
		WHERE id = $4 AND version = $5
		RETURNING version
	`, pq.Array(nonNil(tally.Upvotes)), pq.Array(nonNil(tally.Downvotes)), tally.Score, id, expectedVersion).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM prices WHERE id = $1)`, id).Scan(&exists); err != nil {
			return 0, classify("check price", err)
		}
		if !exists {
			return 0, fmt.Errorf("postgres: prices/%s: %w", id, ErrNotFound)
		}
		return 0, fmt.Errorf("postgres: prices/%s expected version %d: %w", id, expectedVersion, ErrVersionConflict)
	}
	if err != nil {
		return 0, classify("update votes", err)
	}

	if err := notify(ctx, tx, Change{Kind: ReportChanged, PriceID: id}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, classify("commit vote update", err)
	}
	return version, nil
}

func (ps *PostgresStore) ListPrices(ctx context.Context) ([]*models.PriceReport, error) {
	rows, err := ps.db.QueryContext(ctx, `SELECT `+priceColumns+` FROM prices ORDER BY created_at, id`)
	if err != nil {
		return nil, classify("list prices", err)
	}
	defer rows.Close()

	var out []*models.PriceReport
	for rows.Next() {
		p, err := scanPrice(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan price: %w", err)
		}
		out = append(out, p)
	}
	return out, classify("list prices", rows.Err())
}

func (ps *PostgresStore) InsertComment(ctx context.Context, c *models.Comment) error {
	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin comment insert", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO comments (id, price_id, user_id, user_name, user_photo_url, text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.PriceReportID, c.UserID, c.UserName, c.UserPhotoURL, c.Text, c.CreatedAt)
	if err != nil {
		return classify("insert comment", err)
	}
	if err := notify(ctx, tx, Change{Kind: CommentAdded, PriceID: c.PriceReportID}); err != nil {
		return err
	}
	return classify("commit comment insert", tx.Commit())
}

func (ps *PostgresStore) ListComments(ctx context.Context, priceID string) ([]*models.Comment, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT id, price_id, user_id, user_name, user_photo_url, text, created_at
		FROM comments
		WHERE price_id = $1
		ORDER BY created_at, id
	`, priceID)
	if err != nil {
		return nil, classify("list comments", err)
	}
	defer rows.Close()

	var out []*models.Comment
	for rows.Next() {
		c := &models.Comment{}
		if err := rows.Scan(&c.ID, &c.PriceReportID, &c.UserID, &c.UserName, &c.UserPhotoURL, &c.Text, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan comment: %w", err)
		}
		out = append(out, c)
	}
	return out, classify("list comments", rows.Err())
}

func (ps *PostgresStore) Subscribe(priceID string) (*Subscription, error) {
	return ps.hub.Subscribe(priceID), nil
}

func (ps *PostgresStore) Close() error {
	ps.listener.close()
	return ps.db.Close()
}

func notify(ctx context.Context, tx *sql.Tx, c Change) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, c.encode()); err != nil {
		return classify("notify", err)
	}
	return nil
}

func requireInserted(res sql.Result, table, name string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: %s: rows affected: %w", table, err)
	}
	if n == 0 {
		return fmt.Errorf("postgres: %s name %q: %w", table, name, ErrDuplicate)
	}
	return nil
}

// classify maps driver errors onto the storage sentinels, keeping the
// original error in the chain. Nil stays nil.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("postgres: %s: %w", op, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return fmt.Errorf("postgres: %s: %w: %w", op, ErrDuplicate, err)
		case pqErr.Code == "23503":
			return fmt.Errorf("postgres: %s: %w: %w", op, ErrNotFound, err)
		case pqErr.Code == "42501":
			return fmt.Errorf("postgres: %s: %w: %w", op, ErrPermissionDenied, err)
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "53", pqErr.Code.Class() == "57":
			return fmt.Errorf("postgres: %s: %w: %w", op, ErrUnavailable, err)
		}
		return fmt.Errorf("postgres: %s: %w", op, err)
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return fmt.Errorf("postgres: %s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// pgListener relays NOTIFY payloads into the hub.
type pgListener struct {
	l    *pq.Listener
	done chan struct{}
}

func startListener(dsn string, hub *Hub, logger *utils.Logger) (*pgListener, error) {
	events := func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			logger.Warn("listener disconnected: %v", err)
		case pq.ListenerEventReconnected:
			logger.Info("listener reconnected, resyncing subscribers")
		case pq.ListenerEventConnectionAttemptFailed:
			logger.Warn("listener connection attempt failed: %v", err)
		}
	}

	l := pq.NewListener(dsn, 500*time.Millisecond, 30*time.Second, events)
	if err := l.Listen(notifyChannel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("postgres: listen %s: %w", notifyChannel, err)
	}

	pl := &pgListener{l: l, done: make(chan struct{})}
	go pl.run(hub, logger)
	return pl, nil
}

func (pl *pgListener) run(hub *Hub, logger *utils.Logger) {
	for {
		select {
		case <-pl.done:
			return
		case n, ok := <-pl.l.Notify:
			if !ok {
				return
			}
			// nil after a reconnect: notices may have been lost.
			if n == nil {
				hub.PublishAll()
				continue
			}
			c, err := decodeChange(n.Extra)
			if err != nil {
				logger.Warn("%v", err)
				continue
			}
			hub.Publish(c)
		case <-time.After(90 * time.Second):
			go func() {
				if err := pl.l.Ping(); err != nil {
					logger.Debug("listener ping: %v", err)
				}
			}()
		}
	}
}

func (pl *pgListener) close() {
	close(pl.done)
	_ = pl.l.Close()
}
