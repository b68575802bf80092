package store

const schema = `
CREATE TABLE IF NOT EXISTS games (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    store_id   TEXT NOT NULL UNIQUE,
    name       TEXT NOT NULL,
    publisher  TEXT NOT NULL DEFAULT '',
    genre      TEXT NOT NULL DEFAULT '',
    subgenre   TEXT,
    icon_url   TEXT NOT NULL DEFAULT '',
    store_url  TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_games_genre ON games(genre);

CREATE TABLE IF NOT EXISTS snapshots (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    game_id       INTEGER NOT NULL REFERENCES games(id),
    country_code  TEXT NOT NULL,
    rank_free     INTEGER,
    rank_paid     INTEGER,
    rank_grossing INTEGER,
    rating        REAL NOT NULL DEFAULT 0,
    price         REAL NOT NULL DEFAULT 0,
    captured_at   DATETIME NOT NULL
);

-- Day-level uniqueness makes ingestion an upsert: a game captured from
-- several chart collections on the same UTC day merges into one row.
CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_game_country_day
    ON snapshots (game_id, country_code, date(captured_at));

CREATE INDEX IF NOT EXISTS idx_snapshots_game_country ON snapshots(game_id, country_code);
CREATE INDEX IF NOT EXISTS idx_snapshots_country_captured ON snapshots(country_code, captured_at);

CREATE TABLE IF NOT EXISTS daily_trends_cache (
    game_id               INTEGER NOT NULL REFERENCES games(id),
    country_code          TEXT NOT NULL,
    current_rank_free     INTEGER,
    rank_change_free      INTEGER,
    current_rank_paid     INTEGER,
    rank_change_paid      INTEGER,
    current_rank_grossing INTEGER,
    rank_change_grossing  INTEGER,
    days_on_chart         INTEGER NOT NULL DEFAULT 1,
    is_new_entry          BOOLEAN NOT NULL DEFAULT 0,
    last_updated          DATETIME NOT NULL,
    PRIMARY KEY (game_id, country_code)
);

CREATE INDEX IF NOT EXISTS idx_trends_cache_country ON daily_trends_cache(country_code);
`
