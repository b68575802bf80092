package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// ChartType selects one of the three store chart collections.
type ChartType string

const (
	ChartFree     ChartType = "free"
	ChartPaid     ChartType = "paid"
	ChartGrossing ChartType = "grossing"
)

// Valid reports whether t is a known chart type.
func (t ChartType) Valid() bool {
	return t == ChartFree || t == ChartPaid || t == ChartGrossing
}

// rankColumns maps a chart type to its cache columns. Column names are
// fixed here so request parameters never reach SQL text.
func rankColumns(t ChartType) (rank, change string) {
	switch t {
	case ChartPaid:
		return "current_rank_paid", "rank_change_paid"
	case ChartGrossing:
		return "current_rank_grossing", "rank_change_grossing"
	default:
		return "current_rank_free", "rank_change_free"
	}
}

// Game is one registry row, keyed by the stable store identifier.
type Game struct {
	ID        int64     `db:"id" json:"id"`
	StoreID   string    `db:"store_id" json:"store_id"`
	Name      string    `db:"name" json:"name"`
	Publisher string    `db:"publisher" json:"publisher"`
	Genre     string    `db:"genre" json:"genre"`
	Subgenre  *string   `db:"subgenre" json:"subgenre,omitempty"`
	IconURL   string    `db:"icon_url" json:"icon_url"`
	StoreURL  string    `db:"store_url" json:"store_url"`
	CreatedAt time.Time `db:"created_at" json:"-"`
	UpdatedAt time.Time `db:"updated_at" json:"-"`
}

// Snapshot is one raw chart observation. Rank fields are nullable; a row
// where all three are null is inert history as far as trends go.
type Snapshot struct {
	ID           int64     `db:"id" json:"id"`
	GameID       int64     `db:"game_id" json:"game_id"`
	CountryCode  string    `db:"country_code" json:"country_code"`
	RankFree     *int      `db:"rank_free" json:"rank_free"`
	RankPaid     *int      `db:"rank_paid" json:"rank_paid"`
	RankGrossing *int      `db:"rank_grossing" json:"rank_grossing"`
	Rating       float64   `db:"rating" json:"rating"`
	Price        float64   `db:"price" json:"price"`
	CapturedAt   time.Time `db:"captured_at" json:"captured_at"`
}

// TrendRow is the materialized trend state for one (game, country).
type TrendRow struct {
	GameID              int64     `db:"game_id" json:"game_id"`
	CountryCode         string    `db:"country_code" json:"country_code"`
	CurrentRankFree     *int      `db:"current_rank_free" json:"current_rank_free"`
	RankChangeFree      *int      `db:"rank_change_free" json:"rank_change_free"`
	CurrentRankPaid     *int      `db:"current_rank_paid" json:"current_rank_paid"`
	RankChangePaid      *int      `db:"rank_change_paid" json:"rank_change_paid"`
	CurrentRankGrossing *int      `db:"current_rank_grossing" json:"current_rank_grossing"`
	RankChangeGrossing  *int      `db:"rank_change_grossing" json:"rank_change_grossing"`
	DaysOnChart         int       `db:"days_on_chart" json:"days_on_chart"`
	IsNewEntry          bool      `db:"is_new_entry" json:"is_new_entry"`
	LastUpdated         time.Time `db:"last_updated" json:"last_updated"`
}

// ChartEntry is one row of a ranked chart listing, cache joined with the
// game registry and narrowed to the requested chart type.
type ChartEntry struct {
	GameID      int64     `db:"game_id" json:"game_id"`
	StoreID     string    `db:"store_id" json:"store_id"`
	Name        string    `db:"name" json:"name"`
	Publisher   string    `db:"publisher" json:"publisher"`
	Genre       string    `db:"genre" json:"genre"`
	IconURL     string    `db:"icon_url" json:"icon_url"`
	CountryCode string    `db:"country_code" json:"country_code"`
	Rank        int       `db:"rank" json:"rank"`
	RankChange  *int      `db:"rank_change" json:"rank_change"`
	DaysOnChart int       `db:"days_on_chart" json:"days_on_chart"`
	IsNewEntry  bool      `db:"is_new_entry" json:"is_new_entry"`
	LastUpdated time.Time `db:"last_updated" json:"last_updated"`
}

// PresenceRow summarizes a game's standing in one country.
type PresenceRow struct {
	CountryCode         string `db:"country_code" json:"country_code"`
	CurrentRankFree     *int   `db:"current_rank_free" json:"current_rank_free"`
	CurrentRankGrossing *int   `db:"current_rank_grossing" json:"current_rank_grossing"`
}

// Mover is the biggest riser or faller of a country's free chart.
type Mover struct {
	GameID      int64  `db:"game_id" json:"game_id"`
	StoreID     string `db:"store_id" json:"store_id"`
	Name        string `db:"name" json:"name"`
	Genre       string `db:"genre" json:"genre"`
	IconURL     string `db:"icon_url" json:"icon_url"`
	CurrentRank int    `db:"current_rank" json:"current_rank"`
	RankChange  int    `db:"rank_change" json:"rank_change"`
}

// GenreVelocity is the average free-rank movement within one genre.
type GenreVelocity struct {
	Genre     string  `db:"genre" json:"genre"`
	Velocity  float64 `db:"velocity" json:"velocity"`
	GameCount int     `db:"game_count" json:"game_count"`
}

// ChartListOpts controls trending chart listing.
type ChartListOpts struct {
	Country string
	Chart   ChartType
	Genre   string
	Limit   int
	Offset  int
}

// IngestTx is the slice of the store usable inside one ingestion
// transaction.
type IngestTx interface {
	UpsertGame(ctx context.Context, g *Game) error
	UpsertSnapshot(ctx context.Context, s *Snapshot) error
}

// Store is the persistence interface.
type Store interface {
	UpsertGame(ctx context.Context, g *Game) error
	GetGame(ctx context.Context, id int64) (*Game, error)
	GetGameByStoreID(ctx context.Context, storeID string) (*Game, error)

	UpsertSnapshot(ctx context.Context, s *Snapshot) error
	Ingest(ctx context.Context, fn func(IngestTx) error) error
	RecentSnapshots(ctx context.Context, gameID int64, country string, limit int) ([]Snapshot, error)
	SnapshotsByCountrySince(ctx context.Context, country string, since time.Time) ([]Snapshot, error)
	LatestCapture(ctx context.Context, country string) (time.Time, bool, error)
	ActiveCountries(ctx context.Context, since time.Time) ([]string, error)
	CountChartDays(ctx context.Context, country string) (map[int64]int, error)

	ReplaceTrendRows(ctx context.Context, country string, rows []TrendRow) error
	ListTrending(ctx context.Context, opts ChartListOpts) ([]ChartEntry, error)
	GetTrendRow(ctx context.Context, gameID int64, country string) (*TrendRow, error)
	GlobalPresence(ctx context.Context, gameID int64, limit int) ([]PresenceRow, error)
	CacheCountries(ctx context.Context) ([]string, error)
	TopMover(ctx context.Context, country string, rising bool) (*Mover, error)
	GenreVelocities(ctx context.Context, country string, hot bool, limit int) ([]GenreVelocity, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations. The sqlite time
// format keeps captured_at in a shape SQLite's date() understands, which
// the day-level unique index depends on.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_time_format=sqlite&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertGame inserts g or refreshes its mutable metadata, keyed by
// store_id. The registry row's id is written back into g.
func (s *SQLiteStore) UpsertGame(ctx context.Context, g *Game) error {
	return upsertGame(ctx, s.db, g)
}

func upsertGame(ctx context.Context, q sqlx.QueryerContext, g *Game) error {
	now := time.Now().UTC()
	var id int64
	err := sqlx.GetContext(ctx, q, &id, `
		INSERT INTO games (store_id, name, publisher, genre, icon_url, store_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(store_id) DO UPDATE SET
			name = excluded.name,
			publisher = excluded.publisher,
			genre = excluded.genre,
			icon_url = excluded.icon_url,
			updated_at = excluded.updated_at
		RETURNING id
	`, g.StoreID, g.Name, g.Publisher, g.Genre, g.IconURL, g.StoreURL, now, now)
	if err != nil {
		return fmt.Errorf("upsert game %s: %w", g.StoreID, err)
	}
	g.ID = id
	return nil
}

func (s *SQLiteStore) GetGame(ctx context.Context, id int64) (*Game, error) {
	var g Game
	err := s.db.GetContext(ctx, &g, "SELECT * FROM games WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get game %d: %w", id, err)
	}
	return &g, nil
}

func (s *SQLiteStore) GetGameByStoreID(ctx context.Context, storeID string) (*Game, error) {
	var g Game
	err := s.db.GetContext(ctx, &g, "SELECT * FROM games WHERE store_id = ?", storeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get game %s: %w", storeID, err)
	}
	return &g, nil
}

// UpsertSnapshot records one observation, merging into the existing row
// for the same (game, country, UTC day) if one exists. An incoming null
// rank never clobbers a rank already known for that day.
func (s *SQLiteStore) UpsertSnapshot(ctx context.Context, snap *Snapshot) error {
	return upsertSnapshot(ctx, s.db, snap)
}

func upsertSnapshot(ctx context.Context, q sqlx.ExecerContext, snap *Snapshot) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO snapshots (game_id, country_code, rank_free, rank_paid, rank_grossing, rating, price, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(game_id, country_code, date(captured_at)) DO UPDATE SET
			rank_free = COALESCE(excluded.rank_free, rank_free),
			rank_paid = COALESCE(excluded.rank_paid, rank_paid),
			rank_grossing = COALESCE(excluded.rank_grossing, rank_grossing),
			rating = excluded.rating,
			price = excluded.price,
			captured_at = MAX(captured_at, excluded.captured_at)
	`, snap.GameID, snap.CountryCode, snap.RankFree, snap.RankPaid, snap.RankGrossing,
		snap.Rating, snap.Price, snap.CapturedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert snapshot game=%d country=%s: %w", snap.GameID, snap.CountryCode, err)
	}
	return nil
}

type sqliteIngestTx struct {
	tx *sqlx.Tx
}

func (t *sqliteIngestTx) UpsertGame(ctx context.Context, g *Game) error {
	return upsertGame(ctx, t.tx, g)
}

func (t *sqliteIngestTx) UpsertSnapshot(ctx context.Context, snap *Snapshot) error {
	return upsertSnapshot(ctx, t.tx, snap)
}

// Ingest runs fn inside one transaction so a payload batch lands
// atomically: every game row and its snapshot commit together, and a
// failed batch leaves nothing behind.
func (s *SQLiteStore) Ingest(ctx context.Context, fn func(IngestTx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ingest: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteIngestTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ingest: %w", err)
	}
	return nil
}

// RecentSnapshots returns the newest limit snapshots for one
// (game, country), oldest first so they plot left to right.
func (s *SQLiteStore) RecentSnapshots(ctx context.Context, gameID int64, country string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 30
	}
	var snaps []Snapshot
	err := s.db.SelectContext(ctx, &snaps, `
		SELECT * FROM (
			SELECT * FROM snapshots
			WHERE game_id = ? AND country_code = ?
			ORDER BY captured_at DESC
			LIMIT ?
		) ORDER BY captured_at ASC
	`, gameID, country, limit)
	if err != nil {
		return nil, fmt.Errorf("recent snapshots game=%d country=%s: %w", gameID, country, err)
	}
	return snaps, nil
}

func (s *SQLiteStore) SnapshotsByCountrySince(ctx context.Context, country string, since time.Time) ([]Snapshot, error) {
	var snaps []Snapshot
	err := s.db.SelectContext(ctx, &snaps, `
		SELECT * FROM snapshots
		WHERE country_code = ? AND captured_at >= ?
		ORDER BY captured_at, id
	`, country, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("snapshots country=%s: %w", country, err)
	}
	return snaps, nil
}

// LatestCapture returns the newest rank-bearing capture instant for a
// country; rankless rows do not anchor the refresh window. The bare
// column is selected rather than MAX() so the DATETIME decltype
// survives and the driver hands back a time.Time. The second return is
// false when the country has no charted snapshots at all.
func (s *SQLiteStore) LatestCapture(ctx context.Context, country string) (time.Time, bool, error) {
	var latest time.Time
	err := s.db.GetContext(ctx, &latest, `
		SELECT captured_at FROM snapshots
		WHERE country_code = ?
		  AND (rank_free IS NOT NULL OR rank_paid IS NOT NULL OR rank_grossing IS NOT NULL)
		ORDER BY captured_at DESC
		LIMIT 1
	`, country)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest capture %s: %w", country, err)
	}
	return latest.UTC(), true, nil
}

// ActiveCountries lists countries with at least one snapshot since the
// cutoff. Countries that stopped reporting fall out of refresh scope.
func (s *SQLiteStore) ActiveCountries(ctx context.Context, since time.Time) ([]string, error) {
	var countries []string
	err := s.db.SelectContext(ctx, &countries, `
		SELECT DISTINCT country_code FROM snapshots
		WHERE captured_at > ?
		ORDER BY country_code
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("active countries: %w", err)
	}
	return countries, nil
}

// CountChartDays counts, per game, the distinct UTC days on which the
// game held any rank in the country. Full history by design: the
// days-on-chart streak cannot be window-limited, it leans on the
// (game_id, country_code) index instead.
func (s *SQLiteStore) CountChartDays(ctx context.Context, country string) (map[int64]int, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT game_id, COUNT(DISTINCT date(captured_at)) AS days
		FROM snapshots
		WHERE country_code = ?
		  AND (rank_free IS NOT NULL OR rank_paid IS NOT NULL OR rank_grossing IS NOT NULL)
		GROUP BY game_id
	`, country)
	if err != nil {
		return nil, fmt.Errorf("count chart days %s: %w", country, err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var gameID int64
		var days int
		if err := rows.Scan(&gameID, &days); err != nil {
			return nil, err
		}
		counts[gameID] = days
	}
	return counts, rows.Err()
}

// ReplaceTrendRows swaps one country's slice of the trend cache in a
// single transaction: readers see either the old rows or the new rows,
// never a mix. Passing no rows clears the country.
func (s *SQLiteStore) ReplaceTrendRows(ctx context.Context, country string, trendRows []TrendRow) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin refresh %s: %w", country, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM daily_trends_cache WHERE country_code = ?", country); err != nil {
		return fmt.Errorf("clear trend cache %s: %w", country, err)
	}

	for i := range trendRows {
		row := &trendRows[i]
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO daily_trends_cache (
				game_id, country_code,
				current_rank_free, rank_change_free,
				current_rank_paid, rank_change_paid,
				current_rank_grossing, rank_change_grossing,
				days_on_chart, is_new_entry, last_updated
			) VALUES (
				:game_id, :country_code,
				:current_rank_free, :rank_change_free,
				:current_rank_paid, :rank_change_paid,
				:current_rank_grossing, :rank_change_grossing,
				:days_on_chart, :is_new_entry, :last_updated
			)
		`, row)
		if err != nil {
			return fmt.Errorf("insert trend row game=%d country=%s: %w", row.GameID, country, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit refresh %s: %w", country, err)
	}
	return nil
}

func (s *SQLiteStore) ListTrending(ctx context.Context, opts ChartListOpts) ([]ChartEntry, error) {
	rankCol, changeCol := rankColumns(opts.Chart)

	query := fmt.Sprintf(`
		SELECT c.game_id, g.store_id, g.name, g.publisher, g.genre, g.icon_url,
		       c.country_code, c.%s AS rank, c.%s AS rank_change,
		       c.days_on_chart, c.is_new_entry, c.last_updated
		FROM daily_trends_cache c
		JOIN games g ON g.id = c.game_id
		WHERE c.country_code = ? AND c.%s IS NOT NULL
	`, rankCol, changeCol, rankCol)
	args := []any{opts.Country}

	if opts.Genre != "" {
		query += " AND g.genre = ?"
		args = append(args, opts.Genre)
	}

	query += fmt.Sprintf(" ORDER BY c.%s ASC", rankCol)

	limit := opts.Limit
	if limit <= 0 {
		limit = 25
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	entries := []ChartEntry{}
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("list trending %s/%s: %w", opts.Country, opts.Chart, err)
	}
	return entries, nil
}

func (s *SQLiteStore) GetTrendRow(ctx context.Context, gameID int64, country string) (*TrendRow, error) {
	var row TrendRow
	err := s.db.GetContext(ctx, &row,
		"SELECT * FROM daily_trends_cache WHERE game_id = ? AND country_code = ?", gameID, country)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trend row game=%d country=%s: %w", gameID, country, err)
	}
	return &row, nil
}

// GlobalPresence lists the countries where the game currently charts,
// best free rank first.
func (s *SQLiteStore) GlobalPresence(ctx context.Context, gameID int64, limit int) ([]PresenceRow, error) {
	if limit <= 0 {
		limit = 8
	}
	presences := []PresenceRow{}
	err := s.db.SelectContext(ctx, &presences, `
		SELECT country_code, current_rank_free, current_rank_grossing
		FROM daily_trends_cache
		WHERE game_id = ?
		  AND (current_rank_free IS NOT NULL OR current_rank_grossing IS NOT NULL)
		ORDER BY COALESCE(current_rank_free, 999) ASC
		LIMIT ?
	`, gameID, limit)
	if err != nil {
		return nil, fmt.Errorf("global presence game=%d: %w", gameID, err)
	}
	return presences, nil
}

func (s *SQLiteStore) CacheCountries(ctx context.Context) ([]string, error) {
	var countries []string
	err := s.db.SelectContext(ctx, &countries,
		"SELECT DISTINCT country_code FROM daily_trends_cache ORDER BY country_code")
	if err != nil {
		return nil, fmt.Errorf("cache countries: %w", err)
	}
	return countries, nil
}

// TopMover returns the biggest free-chart riser (or faller) for a
// country, or nil when nothing moved in that direction.
func (s *SQLiteStore) TopMover(ctx context.Context, country string, rising bool) (*Mover, error) {
	cond, order := "c.rank_change_free > 0", "DESC"
	if !rising {
		cond, order = "c.rank_change_free < 0", "ASC"
	}

	var m Mover
	err := s.db.GetContext(ctx, &m, fmt.Sprintf(`
		SELECT c.game_id, g.store_id, g.name, g.genre, g.icon_url,
		       c.current_rank_free AS current_rank, c.rank_change_free AS rank_change
		FROM daily_trends_cache c
		JOIN games g ON g.id = c.game_id
		WHERE c.country_code = ? AND c.current_rank_free IS NOT NULL AND %s
		ORDER BY c.rank_change_free %s
		LIMIT 1
	`, cond, order), country)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("top mover %s: %w", country, err)
	}
	return &m, nil
}

// GenreVelocities averages free-rank movement per genre; hot selects
// genres trending up, otherwise trending down.
func (s *SQLiteStore) GenreVelocities(ctx context.Context, country string, hot bool, limit int) ([]GenreVelocity, error) {
	if limit <= 0 {
		limit = 3
	}
	having, order := "AVG(c.rank_change_free) > 0", "DESC"
	if !hot {
		having, order = "AVG(c.rank_change_free) < 0", "ASC"
	}

	velocities := []GenreVelocity{}
	err := s.db.SelectContext(ctx, &velocities, fmt.Sprintf(`
		SELECT g.genre, AVG(c.rank_change_free) AS velocity, COUNT(*) AS game_count
		FROM daily_trends_cache c
		JOIN games g ON g.id = c.game_id
		WHERE c.country_code = ? AND c.rank_change_free IS NOT NULL AND g.genre != ''
		GROUP BY g.genre
		HAVING %s
		ORDER BY velocity %s
		LIMIT ?
	`, having, order), country, limit)
	if err != nil {
		return nil, fmt.Errorf("genre velocities %s: %w", country, err)
	}
	return velocities, nil
}
