package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Entitle store (SQLite).
var Migrations = migrate.NewGroup("entitle")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_entitle_templates",
			Version: "20240101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_templates (
    id          TEXT PRIMARY KEY,
    app_id      TEXT NOT NULL DEFAULT '',
    sku         TEXT NOT NULL DEFAULT '',
    enabled     INTEGER NOT NULL DEFAULT 1,
    data        TEXT NOT NULL DEFAULT '{}',
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entitle_templates_sku_app ON entitle_templates (sku, app_id);
CREATE INDEX IF NOT EXISTS idx_entitle_templates_app ON entitle_templates (app_id, enabled);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_templates`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_coupons",
			Version: "20240101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_coupons (
    id           TEXT PRIMARY KEY,
    app_id       TEXT NOT NULL DEFAULT '',
    code         TEXT NOT NULL DEFAULT '',
    template_id  TEXT NOT NULL DEFAULT '',
    enabled      INTEGER NOT NULL DEFAULT 1,
    uses_max     INTEGER NOT NULL DEFAULT 0,
    uses_current INTEGER NOT NULL DEFAULT 0,
    data         TEXT NOT NULL DEFAULT '{}',
    created_at   TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at   TEXT NOT NULL DEFAULT (datetime('now')),
    CONSTRAINT chk_entitle_coupons_uses CHECK (uses_max = 0 OR uses_current <= uses_max)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entitle_coupons_code_app ON entitle_coupons (code, app_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_coupons`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_accounts",
			Version: "20240101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_accounts (
    id          TEXT PRIMARY KEY,
    app_id      TEXT NOT NULL DEFAULT '',
    kind        TEXT NOT NULL DEFAULT 'individual',
    data        TEXT NOT NULL DEFAULT '{}',
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_entitle_accounts_app ON entitle_accounts (app_id, kind);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_accounts`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_licenses",
			Version: "20240101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_licenses (
    id           TEXT PRIMARY KEY,
    app_id       TEXT NOT NULL DEFAULT '',
    account_id   TEXT NOT NULL DEFAULT '',
    template_id  TEXT NOT NULL DEFAULT '',
    state        TEXT NOT NULL DEFAULT 'pending',
    period_start TEXT,
    next_check   TEXT,
    version      INTEGER NOT NULL DEFAULT 1,
    data         TEXT NOT NULL DEFAULT '{}',
    created_at   TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at   TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_entitle_licenses_account ON entitle_licenses (account_id);
CREATE INDEX IF NOT EXISTS idx_entitle_licenses_template ON entitle_licenses (template_id);
CREATE INDEX IF NOT EXISTS idx_entitle_licenses_app_state ON entitle_licenses (app_id, state);
CREATE INDEX IF NOT EXISTS idx_entitle_licenses_due ON entitle_licenses (next_check) WHERE next_check IS NOT NULL;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_licenses`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_usage_events",
			Version: "20240101000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_usage_events (
    id          TEXT PRIMARY KEY,
    license_id  TEXT NOT NULL DEFAULT '',
    account_id  TEXT NOT NULL DEFAULT '',
    app_id      TEXT NOT NULL DEFAULT '',
    kind        TEXT NOT NULL DEFAULT '',
    amount      INTEGER NOT NULL DEFAULT 0,
    event_id    TEXT NOT NULL DEFAULT '',
    user_id     TEXT NOT NULL DEFAULT '',
    timestamp   TEXT NOT NULL DEFAULT (datetime('now')),
    metadata    TEXT NOT NULL DEFAULT '{}',
    created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_entitle_usage_license_kind ON entitle_usage_events (license_id, kind, timestamp);
CREATE INDEX IF NOT EXISTS idx_entitle_usage_timestamp ON entitle_usage_events (timestamp);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_usage_events`)
				return err
			},
		},
	)
}
