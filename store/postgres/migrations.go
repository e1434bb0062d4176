package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Entitle store.
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
    enabled     BOOLEAN NOT NULL DEFAULT TRUE,
    data        JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    enabled      BOOLEAN NOT NULL DEFAULT TRUE,
    uses_max     INT NOT NULL DEFAULT 0,
    uses_current INT NOT NULL DEFAULT 0,
    data         JSONB NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
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
    data        JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    period_start TIMESTAMPTZ,
    next_check   TIMESTAMPTZ,
    version      BIGINT NOT NULL DEFAULT 1,
    data         JSONB NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    amount      BIGINT NOT NULL DEFAULT 0,
    event_id    TEXT NOT NULL DEFAULT '',
    user_id     TEXT NOT NULL DEFAULT '',
    timestamp   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    metadata    JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
