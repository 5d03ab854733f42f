package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus is the gateway-owned billing state of a tenant.
type SubscriptionStatus string

const (
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// ParseSubscriptionStatus maps platform status strings onto the closed enum.
func ParseSubscriptionStatus(v string) (SubscriptionStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "trial", "pending":
		return SubscriptionTrial, true
	case "active", "accepted":
		return SubscriptionActive, true
	case "past_due", "frozen":
		return SubscriptionPastDue, true
	case "cancelled", "canceled", "declined", "expired":
		return SubscriptionCancelled, true
	}
	return "", false
}

// TenantRecord is the gateway's own metadata about one installed tenant.
type TenantRecord struct {
	ID                   string
	TenantDomain         string
	DisplayName          string
	AccessToken          string
	SubscriptionStatus   SubscriptionStatus
	Plan                 string
	UsageUsed            int64
	UsageLimit           int64
	AssistantID          string
	PhoneNumber          string
	ProvisioningSettings map[string]any
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Provisioned reports whether both provisioning fields are set. A record with
// only one of them is treated as not provisioned.
func (r *TenantRecord) Provisioned() bool {
	return r.AssistantID != "" && r.PhoneNumber != ""
}

// TenantFields is a partial update. Nil fields are left untouched on update.
type TenantFields struct {
	DisplayName          *string
	AccessToken          *string
	SubscriptionStatus   *SubscriptionStatus
	Plan                 *string
	UsageUsed            *int64
	UsageLimit           *int64
	AssistantID          *string
	PhoneNumber          *string
	ProvisioningSettings map[string]any

	// Defaults are written only when the row is created.
	Defaults *TenantDefaults
}

// TenantDefaults seed a freshly inserted tenant.
type TenantDefaults struct {
	SubscriptionStatus SubscriptionStatus
	Plan               string
	UsageLimit         int64
}

// TrialDefaults is what a new install starts with.
func TrialDefaults(usageLimit int64) *TenantDefaults {
	return &TenantDefaults{
		SubscriptionStatus: SubscriptionTrial,
		Plan:               "trial",
		UsageLimit:         usageLimit,
	}
}

// Ptr is a small helper for building TenantFields literals.
func Ptr[T any](v T) *T { return &v }

type tenantRow struct {
	ID                   string         `db:"id"`
	TenantDomain         string         `db:"tenant_domain"`
	DisplayName          string         `db:"display_name"`
	AccessToken          string         `db:"access_token"`
	SubscriptionStatus   string         `db:"subscription_status"`
	Plan                 string         `db:"plan"`
	UsageUsed            int64          `db:"usage_used"`
	UsageLimit           int64          `db:"usage_limit"`
	AssistantID          sql.NullString `db:"assistant_id"`
	PhoneNumber          sql.NullString `db:"phone_number"`
	ProvisioningSettings string         `db:"provisioning_settings"`
	CreatedAt            string         `db:"created_at"`
	UpdatedAt            string         `db:"updated_at"`
}

const tenantColumns = `id, tenant_domain, display_name, access_token, subscription_status, plan,
  usage_used, usage_limit, assistant_id, phone_number, provisioning_settings, created_at, updated_at`

// GetTenantRecord loads the record for a tenant domain, normalized first.
func (s *Store) GetTenantRecord(ctx context.Context, domain string) (*TenantRecord, error) {
	domain = s.Normalize(domain)
	if domain == "" {
		return nil, ErrEmptyDomain
	}
	return s.getTenant(ctx, "tenant_domain", domain)
}

// GetTenantRecordByID loads the record by its gateway id.
func (s *Store) GetTenantRecordByID(ctx context.Context, id string) (*TenantRecord, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrTenantNotFound
	}
	return s.getTenant(ctx, "id", id)
}

// ResolveTenant accepts either a record id or a tenant domain.
func (s *Store) ResolveTenant(ctx context.Context, ref string) (*TenantRecord, error) {
	if _, err := uuid.Parse(ref); err == nil {
		rec, err := s.GetTenantRecordByID(ctx, ref)
		if !errors.Is(err, ErrTenantNotFound) {
			return rec, err
		}
	}
	return s.GetTenantRecord(ctx, ref)
}

func (s *Store) getTenant(ctx context.Context, column, value string) (*TenantRecord, error) {
	var row tenantRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT `+tenantColumns+` FROM tenants WHERE `+column+` = ?;`), value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read tenant: %w", err)
	}
	return row.record()
}

// UpsertTenantRecord writes the provided fields for a tenant in one statement.
// On insert, unset columns take Defaults (or the table defaults); on conflict
// only the provided fields are overwritten.
func (s *Store) UpsertTenantRecord(ctx context.Context, domain string, f TenantFields) error {
	domain = s.Normalize(domain)
	if domain == "" {
		return ErrEmptyDomain
	}
	set, vals, err := f.columns()
	if err != nil {
		return err
	}

	now := s.timestamp()
	cols := append([]string{"id", "tenant_domain", "created_at", "updated_at"}, set...)
	args := append([]any{uuid.NewString(), domain, now, now}, vals...)
	updates := []string{"updated_at = excluded.updated_at"}
	for _, col := range set {
		updates = append(updates, col+" = excluded."+col)
	}

	if d := f.Defaults; d != nil {
		insertOnly := func(col string, v any) {
			if !slices.Contains(set, col) {
				cols = append(cols, col)
				args = append(args, v)
			}
		}
		if d.SubscriptionStatus != "" {
			insertOnly("subscription_status", string(d.SubscriptionStatus))
		}
		if d.Plan != "" {
			insertOnly("plan", d.Plan)
		}
		insertOnly("usage_limit", d.UsageLimit)
	}

	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := `INSERT INTO tenants(` + strings.Join(cols, ", ") + `)
VALUES(` + marks + `)
ON CONFLICT(tenant_domain) DO UPDATE SET
  ` + strings.Join(updates, ",\n  ") + `;`

	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("upsert tenant: %w", err)
	}
	return nil
}

// UpdateTenantRecord writes the provided fields of an existing tenant and
// returns ErrTenantNotFound when there is none. Defaults are ignored.
func (s *Store) UpdateTenantRecord(ctx context.Context, domain string, f TenantFields) error {
	domain = s.Normalize(domain)
	if domain == "" {
		return ErrEmptyDomain
	}
	set, vals, err := f.columns()
	if err != nil {
		return err
	}

	assignments := []string{"updated_at = ?"}
	args := []any{s.timestamp()}
	for i, col := range set {
		assignments = append(assignments, col+" = ?")
		args = append(args, vals[i])
	}
	args = append(args, domain)

	query := `UPDATE tenants SET ` + strings.Join(assignments, ", ") + ` WHERE tenant_domain = ?;`
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}
	if n == 0 {
		return ErrTenantNotFound
	}
	return nil
}

// columns lists the provided fields as column/value pairs.
func (f TenantFields) columns() ([]string, []any, error) {
	if (f.AssistantID == nil) != (f.PhoneNumber == nil) {
		return nil, nil, ErrPartialProvision
	}
	if f.AssistantID != nil && (*f.AssistantID == "") != (*f.PhoneNumber == "") {
		return nil, nil, ErrPartialProvision
	}

	var cols []string
	var vals []any
	set := func(col string, v any) {
		cols = append(cols, col)
		vals = append(vals, v)
	}

	if f.DisplayName != nil {
		set("display_name", *f.DisplayName)
	}
	if f.AccessToken != nil {
		set("access_token", *f.AccessToken)
	}
	if f.SubscriptionStatus != nil {
		set("subscription_status", string(*f.SubscriptionStatus))
	}
	if f.Plan != nil {
		set("plan", *f.Plan)
	}
	if f.UsageUsed != nil {
		set("usage_used", *f.UsageUsed)
	}
	if f.UsageLimit != nil {
		set("usage_limit", *f.UsageLimit)
	}
	if f.AssistantID != nil {
		set("assistant_id", nullable(*f.AssistantID))
		set("phone_number", nullable(*f.PhoneNumber))
	}
	if f.ProvisioningSettings != nil {
		raw, err := json.Marshal(f.ProvisioningSettings)
		if err != nil {
			return nil, nil, fmt.Errorf("encode provisioning settings: %w", err)
		}
		set("provisioning_settings", string(raw))
	}
	return cols, vals, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func (r tenantRow) record() (*TenantRecord, error) {
	rec := &TenantRecord{
		ID:                 r.ID,
		TenantDomain:       r.TenantDomain,
		DisplayName:        r.DisplayName,
		AccessToken:        r.AccessToken,
		SubscriptionStatus: SubscriptionStatus(r.SubscriptionStatus),
		Plan:               r.Plan,
		UsageUsed:          r.UsageUsed,
		UsageLimit:         r.UsageLimit,
		AssistantID:        r.AssistantID.String,
		PhoneNumber:        r.PhoneNumber.String,
		CreatedAt:          parseTime(r.CreatedAt),
		UpdatedAt:          parseTime(r.UpdatedAt),
	}
	rec.ProvisioningSettings = map[string]any{}
	if r.ProvisioningSettings != "" {
		if err := json.Unmarshal([]byte(r.ProvisioningSettings), &rec.ProvisioningSettings); err != nil {
			return nil, fmt.Errorf("decode provisioning settings for %s: %w", r.TenantDomain, err)
		}
	}
	return rec, nil
}
