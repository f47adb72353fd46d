package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/retainly/outreach-cli/internal/db"
	"github.com/retainly/outreach-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"get_prospect":       `SELECT id, email, first_name, last_name, title, company_name, industry, employee_count, status, do_not_email, created_at, updated_at FROM outreach_prospects WHERE id = $1`,
	"get_email":          `SELECT id, campaign_prospect_id, position, subject, body, status, ai_generated, scheduled_at, sent_at, provider_message_id, send_error, created_at, updated_at FROM outreach_emails WHERE id = $1`,
	"update_email_status": `UPDATE outreach_emails SET status = $1, updated_at = $2 WHERE id = $3`,
	"insert_event":       `INSERT INTO email_events (id, email_id, type, provider, provider_message_id, payload, occurred_at, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"count_events":       `SELECT COUNT(*) FROM email_events WHERE email_id = $1 AND type = $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems needing direct
// query access (e.g., bulk import).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS outreach_prospects (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	email          TEXT NOT NULL UNIQUE,
	first_name     TEXT NOT NULL DEFAULT '',
	last_name      TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL DEFAULT '',
	company_name   TEXT NOT NULL DEFAULT '',
	industry       TEXT NOT NULL DEFAULT '',
	employee_count INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'imported',
	do_not_email   BOOLEAN NOT NULL DEFAULT false,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_prospects_status ON outreach_prospects(status);

CREATE TABLE IF NOT EXISTS prospect_research (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	prospect_id          TEXT NOT NULL UNIQUE REFERENCES outreach_prospects(id),
	summary              TEXT NOT NULL DEFAULT '',
	personalization_hook TEXT NOT NULL DEFAULT '',
	growth_signals       JSONB,
	turnover_cost_low    DOUBLE PRECISION NOT NULL DEFAULT 0,
	turnover_cost_high   DOUBLE PRECISION NOT NULL DEFAULT 0,
	enrichment           JSONB,
	ai_generated         BOOLEAN NOT NULL DEFAULT false,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at           TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_research_expires_at ON prospect_research(expires_at);

CREATE TABLE IF NOT EXISTS outreach_campaigns (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name           TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'active',
	daily_send_cap INTEGER NOT NULL DEFAULT 50,
	mail_provider  TEXT NOT NULL DEFAULT 'sendgrid',
	from_email     TEXT NOT NULL DEFAULT '',
	from_name      TEXT NOT NULL DEFAULT '',
	open_count     INTEGER NOT NULL DEFAULT 0,
	reply_count    INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS campaign_prospects (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	campaign_id  TEXT NOT NULL REFERENCES outreach_campaigns(id),
	prospect_id  TEXT NOT NULL REFERENCES outreach_prospects(id),
	status       TEXT NOT NULL DEFAULT 'active',
	current_step INTEGER NOT NULL DEFAULT 0,
	enrolled_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(campaign_id, prospect_id)
);

CREATE INDEX IF NOT EXISTS idx_links_campaign ON campaign_prospects(campaign_id);
CREATE INDEX IF NOT EXISTS idx_links_prospect ON campaign_prospects(prospect_id);

CREATE TABLE IF NOT EXISTS outreach_emails (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	campaign_prospect_id TEXT NOT NULL REFERENCES campaign_prospects(id),
	position             INTEGER NOT NULL,
	subject              TEXT NOT NULL DEFAULT '',
	body                 TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT 'draft',
	ai_generated         BOOLEAN NOT NULL DEFAULT false,
	scheduled_at         TIMESTAMPTZ,
	sent_at              TIMESTAMPTZ,
	provider_message_id  TEXT NOT NULL DEFAULT '',
	send_error           TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(campaign_prospect_id, position)
);

CREATE INDEX IF NOT EXISTS idx_emails_status ON outreach_emails(status);
CREATE INDEX IF NOT EXISTS idx_emails_link ON outreach_emails(campaign_prospect_id);
CREATE INDEX IF NOT EXISTS idx_emails_provider_id ON outreach_emails(provider_message_id);
CREATE INDEX IF NOT EXISTS idx_emails_sched ON outreach_emails(status, scheduled_at);

CREATE TABLE IF NOT EXISTS email_events (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	email_id            TEXT NOT NULL REFERENCES outreach_emails(id),
	type                TEXT NOT NULL,
	provider            TEXT NOT NULL DEFAULT '',
	provider_message_id TEXT NOT NULL DEFAULT '',
	payload             JSONB,
	occurred_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_events_email_type ON email_events(email_id, type);

CREATE TABLE IF NOT EXISTS opportunities (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	prospect_id TEXT NOT NULL REFERENCES outreach_prospects(id),
	campaign_id TEXT NOT NULL DEFAULT '',
	stage       TEXT NOT NULL DEFAULT 'open',
	source      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_opportunities_prospect ON opportunities(prospect_id, stage);

CREATE TABLE IF NOT EXISTS outreach_settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Prospects

const prospectCols = `id, email, first_name, last_name, title, company_name, industry, employee_count, status, do_not_email, created_at, updated_at`

func scanProspect(row pgx.Row) (*model.Prospect, error) {
	var p model.Prospect
	err := row.Scan(&p.ID, &p.Email, &p.FirstName, &p.LastName, &p.Title,
		&p.CompanyName, &p.Industry, &p.EmployeeCount, &p.Status, &p.DoNotEmail,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) CreateProspect(ctx context.Context, p model.Prospect) (*model.Prospect, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = model.ProspectStatusImported
	}
	now := time.Now().UTC()
	p.Email = model.NormalizeEmail(p.Email)
	p.CreatedAt, p.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO outreach_prospects (id, email, first_name, last_name, title, company_name, industry, employee_count, status, do_not_email, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.Email, p.FirstName, p.LastName, p.Title, p.CompanyName,
		p.Industry, p.EmployeeCount, string(p.Status), p.DoNotEmail, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert prospect")
	}
	return &p, nil
}

func (s *PostgresStore) GetProspect(ctx context.Context, id string) (*model.Prospect, error) {
	p, err := scanProspect(s.pool.QueryRow(ctx,
		`SELECT `+prospectCols+` FROM outreach_prospects WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get prospect %s", id)
	}
	return p, nil
}

func (s *PostgresStore) GetProspectByEmail(ctx context.Context, email string) (*model.Prospect, error) {
	p, err := scanProspect(s.pool.QueryRow(ctx,
		`SELECT `+prospectCols+` FROM outreach_prospects WHERE email = $1`,
		model.NormalizeEmail(email)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get prospect by email")
	}
	return p, nil
}

func (s *PostgresStore) ListProspects(ctx context.Context, filter ProspectFilter) ([]model.Prospect, error) {
	query := `SELECT ` + prospectCols + ` FROM outreach_prospects WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list prospects")
	}
	defer rows.Close()

	var prospects []model.Prospect
	for rows.Next() {
		p, err := scanProspect(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan prospect")
		}
		prospects = append(prospects, *p)
	}
	return prospects, eris.Wrap(rows.Err(), "postgres: list prospects iterate")
}

func (s *PostgresStore) UpdateProspectStatus(ctx context.Context, id string, status model.ProspectStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outreach_prospects SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update prospect status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("prospect not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) UpdateProspectFirmographics(ctx context.Context, id string, employeeCount int, industry string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outreach_prospects SET employee_count = $1, industry = $2, updated_at = $3 WHERE id = $4`,
		employeeCount, industry, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update prospect firmographics %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("prospect not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) SetDoNotEmail(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outreach_prospects SET do_not_email = true, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set do_not_email %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("prospect not found: %s", id)
	}
	return nil
}

// ImportProspects bulk-upserts prospects keyed by email. Existing rows keep
// their status; only descriptive fields are refreshed.
func (s *PostgresStore) ImportProspects(ctx context.Context, prospects []model.Prospect) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(prospects))
	for _, p := range prospects {
		id := p.ID
		if id == "" {
			id = uuid.New().String()
		}
		status := p.Status
		if status == "" {
			status = model.ProspectStatusImported
		}
		rows = append(rows, []any{
			id, model.NormalizeEmail(p.Email), p.FirstName, p.LastName, p.Title,
			p.CompanyName, p.Industry, p.EmployeeCount, string(status), false, now, now,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "outreach_prospects",
		Columns: []string{
			"id", "email", "first_name", "last_name", "title",
			"company_name", "industry", "employee_count", "status", "do_not_email",
			"created_at", "updated_at",
		},
		ConflictKeys: []string{"email"},
		UpdateCols: []string{
			"first_name", "last_name", "title", "company_name",
			"industry", "employee_count", "updated_at",
		},
	}, rows)
	return n, eris.Wrap(err, "postgres: import prospects")
}

// Research cache

func (s *PostgresStore) GetResearch(ctx context.Context, prospectID string) (*model.ResearchRecord, error) {
	var r model.ResearchRecord
	var signalsJSON, enrichJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, prospect_id, summary, personalization_hook, growth_signals, turnover_cost_low, turnover_cost_high, enrichment, ai_generated, created_at, expires_at
		 FROM prospect_research
		 WHERE prospect_id = $1 AND expires_at > now()`,
		prospectID,
	).Scan(&r.ID, &r.ProspectID, &r.Summary, &r.PersonalizationHook, &signalsJSON,
		&r.TurnoverCostLow, &r.TurnoverCostHigh, &enrichJSON, &r.AIGenerated,
		&r.CreatedAt, &r.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get research")
	}
	if signalsJSON != nil {
		if err := json.Unmarshal(signalsJSON, &r.GrowthSignals); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal growth signals")
		}
	}
	r.EnrichmentPayload = enrichJSON
	return &r, nil
}

func (s *PostgresStore) UpsertResearch(ctx context.Context, rec model.ResearchRecord) (*model.ResearchRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	signalsJSON, err := json.Marshal(rec.GrowthSignals)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal growth signals")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO prospect_research (id, prospect_id, summary, personalization_hook, growth_signals, turnover_cost_low, turnover_cost_high, enrichment, ai_generated, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (prospect_id) DO UPDATE SET
		   summary = $3, personalization_hook = $4, growth_signals = $5,
		   turnover_cost_low = $6, turnover_cost_high = $7, enrichment = $8,
		   ai_generated = $9, created_at = $10, expires_at = $11`,
		rec.ID, rec.ProspectID, rec.Summary, rec.PersonalizationHook, signalsJSON,
		rec.TurnoverCostLow, rec.TurnoverCostHigh, rec.EnrichmentPayload,
		rec.AIGenerated, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upsert research")
	}
	return &rec, nil
}

// Campaigns

const campaignCols = `id, name, status, daily_send_cap, mail_provider, from_email, from_name, open_count, reply_count, created_at, updated_at`

func scanCampaign(row pgx.Row) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(&c.ID, &c.Name, &c.Status, &c.DailySendCap, &c.MailProvider,
		&c.FromEmail, &c.FromName, &c.OpenCount, &c.ReplyCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) CreateCampaign(ctx context.Context, c model.Campaign) (*model.Campaign, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = model.CampaignStatusActive
	}
	if c.DailySendCap <= 0 {
		c.DailySendCap = 50
	}
	if c.MailProvider == "" {
		c.MailProvider = model.ProviderSendGrid
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO outreach_campaigns (id, name, status, daily_send_cap, mail_provider, from_email, from_name, open_count, reply_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0, $8, $9)`,
		c.ID, c.Name, string(c.Status), c.DailySendCap, string(c.MailProvider),
		c.FromEmail, c.FromName, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert campaign")
	}
	return &c, nil
}

func (s *PostgresStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	c, err := scanCampaign(s.pool.QueryRow(ctx,
		`SELECT `+campaignCols+` FROM outreach_campaigns WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get campaign %s", id)
	}
	return c, nil
}

func (s *PostgresStore) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+campaignCols+` FROM outreach_campaigns ORDER BY created_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list campaigns")
	}
	defer rows.Close()

	var campaigns []model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan campaign")
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, eris.Wrap(rows.Err(), "postgres: list campaigns iterate")
}

func (s *PostgresStore) SetCampaignStatus(ctx context.Context, id string, status model.CampaignStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outreach_campaigns SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set campaign status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("campaign not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) IncrementOpenCount(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outreach_campaigns SET open_count = open_count + 1, updated_at = now() WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: increment open count %s", id)
}

func (s *PostgresStore) IncrementReplyCount(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outreach_campaigns SET reply_count = reply_count + 1, updated_at = now() WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: increment reply count %s", id)
}

// Campaign links

const linkCols = `id, campaign_id, prospect_id, status, current_step, enrolled_at, updated_at`

func scanLink(row pgx.Row) (*model.CampaignProspect, error) {
	var l model.CampaignProspect
	err := row.Scan(&l.ID, &l.CampaignID, &l.ProspectID, &l.Status,
		&l.CurrentStep, &l.EnrolledAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *PostgresStore) EnrollProspect(ctx context.Context, campaignID, prospectID string) (*model.CampaignProspect, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	l, err := scanLink(s.pool.QueryRow(ctx,
		`INSERT INTO campaign_prospects (id, campaign_id, prospect_id, status, current_step, enrolled_at, updated_at)
		 VALUES ($1, $2, $3, $4, 0, $5, $5)
		 ON CONFLICT (campaign_id, prospect_id) DO UPDATE SET updated_at = $5
		 RETURNING `+linkCols,
		id, campaignID, prospectID, string(model.LinkStatusActive), now,
	))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: enroll prospect")
	}
	return l, nil
}

func (s *PostgresStore) GetLink(ctx context.Context, id string) (*model.CampaignProspect, error) {
	l, err := scanLink(s.pool.QueryRow(ctx,
		`SELECT `+linkCols+` FROM campaign_prospects WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get link %s", id)
	}
	return l, nil
}

// FindActiveLinkByEmail resolves an inbound sender address to that prospect's
// most recent active campaign link. Returns (nil, nil) on no match.
func (s *PostgresStore) FindActiveLinkByEmail(ctx context.Context, email string) (*model.CampaignProspect, error) {
	l, err := scanLink(s.pool.QueryRow(ctx,
		`SELECT cp.id, cp.campaign_id, cp.prospect_id, cp.status, cp.current_step, cp.enrolled_at, cp.updated_at
		 FROM campaign_prospects cp
		 JOIN outreach_prospects p ON p.id = cp.prospect_id
		 WHERE p.email = $1 AND cp.status = 'active'
		 ORDER BY cp.enrolled_at DESC LIMIT 1`,
		model.NormalizeEmail(email),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: find active link by email")
	}
	return l, nil
}

func (s *PostgresStore) SetLinkStatus(ctx context.Context, id string, status model.LinkStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE campaign_prospects SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set link status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("campaign link not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) AdvanceLinkStep(ctx context.Context, id string, step int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE campaign_prospects SET current_step = $1, updated_at = $2 WHERE id = $3`,
		step, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: advance link step %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("campaign link not found: %s", id)
	}
	return nil
}

// Outreach emails

const emailCols = `id, campaign_prospect_id, position, subject, body, status, ai_generated, scheduled_at, sent_at, provider_message_id, send_error, created_at, updated_at`

func scanEmail(row pgx.Row) (*model.OutreachEmail, error) {
	var e model.OutreachEmail
	err := row.Scan(&e.ID, &e.CampaignProspectID, &e.Position, &e.Subject, &e.Body,
		&e.Status, &e.AIGenerated, &e.ScheduledAt, &e.SentAt, &e.ProviderMessageID,
		&e.SendError, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) InsertEmails(ctx context.Context, emails []model.OutreachEmail) error {
	now := time.Now().UTC()
	for i := range emails {
		e := &emails[i]
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.Status == "" {
			e.Status = model.EmailStatusDraft
		}
		e.CreatedAt, e.UpdatedAt = now, now

		_, err := s.pool.Exec(ctx,
			`INSERT INTO outreach_emails (id, campaign_prospect_id, position, subject, body, status, ai_generated, scheduled_at, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			e.ID, e.CampaignProspectID, e.Position, e.Subject, e.Body,
			string(e.Status), e.AIGenerated, e.ScheduledAt, now, now,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert email position %d", e.Position)
		}
	}
	return nil
}

func (s *PostgresStore) GetEmail(ctx context.Context, id string) (*model.OutreachEmail, error) {
	e, err := scanEmail(s.pool.QueryRow(ctx,
		`SELECT `+emailCols+` FROM outreach_emails WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get email %s", id)
	}
	return e, nil
}

func (s *PostgresStore) GetEmailByProviderMessageID(ctx context.Context, providerMessageID string) (*model.OutreachEmail, error) {
	e, err := scanEmail(s.pool.QueryRow(ctx,
		`SELECT `+emailCols+` FROM outreach_emails WHERE provider_message_id = $1 ORDER BY created_at DESC LIMIT 1`,
		providerMessageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get email by provider message id")
	}
	return e, nil
}

func (s *PostgresStore) ListSendable(ctx context.Context, campaignID string, limit int) ([]model.OutreachEmail, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT e.id, e.campaign_prospect_id, e.position, e.subject, e.body, e.status, e.ai_generated, e.scheduled_at, e.sent_at, e.provider_message_id, e.send_error, e.created_at, e.updated_at
		 FROM outreach_emails e
		 JOIN campaign_prospects cp ON cp.id = e.campaign_prospect_id
		 WHERE cp.campaign_id = $1
		   AND e.status IN ('approved', 'scheduled')
		   AND (e.scheduled_at IS NULL OR e.scheduled_at <= now())
		 ORDER BY e.position ASC, e.created_at ASC
		 LIMIT $2`,
		campaignID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sendable")
	}
	return collectEmails(rows, "list sendable")
}

func (s *PostgresStore) ListDueScheduled(ctx context.Context, limit int) ([]model.OutreachEmail, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+emailCols+` FROM outreach_emails
		 WHERE status = 'scheduled' AND scheduled_at <= now()
		 ORDER BY scheduled_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list due scheduled")
	}
	return collectEmails(rows, "list due scheduled")
}

func (s *PostgresStore) ListEmailsByLink(ctx context.Context, linkID string) ([]model.OutreachEmail, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+emailCols+` FROM outreach_emails
		 WHERE campaign_prospect_id = $1
		 ORDER BY position ASC`,
		linkID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list emails by link")
	}
	return collectEmails(rows, "list emails by link")
}

func collectEmails(rows pgx.Rows, op string) ([]model.OutreachEmail, error) {
	defer rows.Close()
	var emails []model.OutreachEmail
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: scan email (%s)", op)
		}
		emails = append(emails, *e)
	}
	return emails, eris.Wrapf(rows.Err(), "postgres: %s iterate", op)
}

func (s *PostgresStore) UpdateEmailStatus(ctx context.Context, id string, status model.EmailStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outreach_emails SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update email status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("email not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) ScheduleEmail(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outreach_emails SET status = 'scheduled', scheduled_at = $1, updated_at = $2 WHERE id = $3 AND status IN ('draft', 'approved')`,
		at, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: schedule email %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("email not schedulable: %s", id)
	}
	return nil
}

func (s *PostgresStore) MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outreach_emails SET status = 'sent', sent_at = $1, provider_message_id = $2, send_error = '', updated_at = $3 WHERE id = $4`,
		at, providerMessageID, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark sent %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("email not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outreach_emails SET status = 'failed', send_error = $1, updated_at = $2 WHERE id = $3`,
		reason, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark failed %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("email not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) DeleteDrafts(ctx context.Context, linkID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM outreach_emails WHERE campaign_prospect_id = $1 AND status = 'draft'`,
		linkID,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete drafts")
	}
	return int(tag.RowsAffected()), nil
}

// DemoteLaterPending moves approved/scheduled messages after the given
// position back to draft. Used by the reply cascade; demoted rows can be
// manually re-approved.
func (s *PostgresStore) DemoteLaterPending(ctx context.Context, linkID string, position int) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outreach_emails
		 SET status = 'draft', scheduled_at = NULL, updated_at = $1
		 WHERE campaign_prospect_id = $2 AND position > $3 AND status IN ('approved', 'scheduled')`,
		time.Now().UTC(), linkID, position,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: demote later pending")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CountSentSince(ctx context.Context, campaignID string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outreach_emails e
		 JOIN campaign_prospects cp ON cp.id = e.campaign_prospect_id
		 WHERE cp.campaign_id = $1 AND e.sent_at >= $2`,
		campaignID, since,
	).Scan(&count)
	return count, eris.Wrap(err, "postgres: count sent since")
}

// Email events

func (s *PostgresStore) InsertEvent(ctx context.Context, ev model.EmailEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = now
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO email_events (id, email_id, type, provider, provider_message_id, payload, occurred_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.EmailID, string(ev.Type), ev.Provider, ev.ProviderMessageID,
		ev.Payload, ev.OccurredAt, now,
	)
	return eris.Wrap(err, "postgres: insert event")
}

func (s *PostgresStore) CountEvents(ctx context.Context, emailID string, typ model.EventType) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM email_events WHERE email_id = $1 AND type = $2`,
		emailID, string(typ),
	).Scan(&count)
	return count, eris.Wrap(err, "postgres: count events")
}

// Opportunities

func (s *PostgresStore) HasOpenOpportunity(ctx context.Context, prospectID string) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM opportunities WHERE prospect_id = $1 AND stage = 'open'`,
		prospectID,
	).Scan(&count)
	if err != nil {
		return false, eris.Wrap(err, "postgres: has open opportunity")
	}
	return count > 0, nil
}

func (s *PostgresStore) CreateOpportunity(ctx context.Context, o model.Opportunity) (*model.Opportunity, error) {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.Stage == "" {
		o.Stage = model.OpportunityStageOpen
	}
	now := time.Now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO opportunities (id, prospect_id, campaign_id, stage, source, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.ID, o.ProspectID, o.CampaignID, string(o.Stage), o.Source, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert opportunity")
	}
	return &o, nil
}

// Settings

func (s *PostgresStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM outreach_settings WHERE key = $1`, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", eris.Wrapf(err, "postgres: get setting %s", key)
	}
	return value, nil
}

func (s *PostgresStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO outreach_settings (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = $3`,
		key, value, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: set setting %s", key)
}
