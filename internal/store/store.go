package store

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tanvir/tenantbook/internal/authz"
	"github.com/tanvir/tenantbook/internal/filter"
	"github.com/tanvir/tenantbook/internal/keys"
	"github.com/tanvir/tenantbook/internal/model"
	"github.com/tanvir/tenantbook/internal/redisx"
)

const (
	// DefaultReminderLeadMinutes is applied when create omits the field.
	DefaultReminderLeadMinutes = 60

	maxReminderLeadMinutes = 10080

	// Records expire one year after creation regardless of status.
	retentionPeriod = 365 * 24 * time.Hour

	// Id collisions are a storage-integrity event, not a business error.
	// Retry with a fresh id before giving up.
	createAttempts = 3

	tenantIndexPrefix = "gsi1:"
	ownerIndexPrefix  = "gsi2:"
	expiryKey         = "appointments:expiry"
	memberSep         = "|"
)

// Store owns the appointment keyspace: one primary item per record plus two
// sorted-set indexes (tenant-chronological and owner-chronological) and an
// expiry set driving retention.
type Store struct {
	rdb   *redisx.Client
	now   func() time.Time
	newID func() string
}

func New(rdb *redisx.Client) *Store {
	return &Store{
		rdb:   rdb,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// CreateInput carries the caller-supplied fields of a new appointment.
type CreateInput struct {
	Title               string
	Description         string
	StartTime           time.Time
	EndTime             time.Time
	Location            string
	Attendees           []string
	Status              model.Status
	ReminderLeadMinutes *int
}

// Create validates the input, assigns a server-side id and persists the
// record so it is reachable on all three lookup paths atomically.
func (s *Store) Create(ctx context.Context, tenantID, ownerUserID string, in CreateInput) (model.Appointment, error) {
	if strings.TrimSpace(tenantID) == "" {
		return model.Appointment{}, invalid("tenant_id", "must not be empty")
	}
	if strings.TrimSpace(ownerUserID) == "" {
		return model.Appointment{}, invalid("owner_user_id", "must not be empty")
	}
	if strings.TrimSpace(in.Title) == "" {
		return model.Appointment{}, invalid("title", "must not be empty")
	}
	if in.StartTime.IsZero() || in.EndTime.IsZero() {
		return model.Appointment{}, invalid("start_time", "start_time and end_time are required")
	}
	if !in.EndTime.After(in.StartTime) {
		return model.Appointment{}, invalid("end_time", "must be after start_time")
	}

	status := model.StatusScheduled
	if in.Status != "" {
		parsed, err := model.ParseStatus(string(in.Status))
		if err != nil {
			return model.Appointment{}, invalid("status", err.Error())
		}
		status = parsed
	}

	lead := DefaultReminderLeadMinutes
	if in.ReminderLeadMinutes != nil {
		lead = *in.ReminderLeadMinutes
	}
	if lead < 0 || lead > maxReminderLeadMinutes {
		return model.Appointment{}, invalid("reminder_lead_minutes", "must be between 0 and 10080")
	}

	now := s.now().UTC()
	rec := model.Appointment{
		TenantID:            tenantID,
		OwnerUserID:         ownerUserID,
		Title:               in.Title,
		Description:         in.Description,
		StartTime:           in.StartTime.UTC(),
		EndTime:             in.EndTime.UTC(),
		Location:            in.Location,
		Attendees:           in.Attendees,
		Status:              status,
		ReminderLeadMinutes: lead,
		CreatedAt:           now,
		UpdatedAt:           now,
		ExpiresAt:           now.Add(retentionPeriod),
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		rec.ID = s.newID()
		doc, err := json.Marshal(rec)
		if err != nil {
			return model.Appointment{}, err
		}

		pk := keys.Primary(rec.TenantID, rec.ID)
		scriptKeys := []string{
			itemKey(pk),
			tenantIndexPrefix + keys.TenantIndex(rec.TenantID, rec.StartTime).PK,
			ownerIndexPrefix + keys.OwnerIndex(rec.TenantID, rec.OwnerUserID, rec.StartTime).PK,
			expiryKey,
		}
		res, err := createScript.Run(ctx, s.rdb, scriptKeys,
			doc,
			tenantMember(rec),
			ownerMember(rec),
			rec.ExpiresAt.Unix(),
		).Int()
		if err != nil {
			return model.Appointment{}, unavailable(err)
		}
		if res == 1 {
			return rec, nil
		}
	}
	return model.Appointment{}, ErrConflict
}

// GetByID fetches by primary key and then authorizes against the record's
// owner. A wrong-tenant id can never hit: the primary key embeds the tenant.
func (s *Store) GetByID(ctx context.Context, tenantID, appointmentID string, id authz.Identity) (model.Appointment, error) {
	raw, err := s.rdb.Get(ctx, itemKey(keys.Primary(tenantID, appointmentID))).Bytes()
	if err == redis.Nil {
		return model.Appointment{}, ErrNotFound
	}
	if err != nil {
		return model.Appointment{}, unavailable(err)
	}

	var rec model.Appointment
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.Appointment{}, unavailable(err)
	}
	if !authz.CanActOnRecord(id, rec) {
		return model.Appointment{}, authz.ErrAccessDenied
	}
	return rec, nil
}

// List scans the tenant index for super-admins and the owner index for
// everyone else, then applies the filter. Authorization happens through
// index selection, not post-filtering: non-super callers never touch rows
// they could not read.
func (s *Store) List(ctx context.Context, tenantID string, id authz.Identity, f filter.Filter) ([]model.Appointment, error) {
	var zsetKey string
	switch id.Role {
	case authz.RoleSuperAdmin:
		zsetKey = tenantIndexPrefix + keys.TenantIndex(tenantID, time.Time{}).PK
	case authz.RoleTenantAdmin, authz.RoleUser:
		zsetKey = ownerIndexPrefix + keys.OwnerIndex(tenantID, id.UserID, time.Time{}).PK
	default:
		return nil, authz.ErrAccessDenied
	}

	members, err := s.rdb.ZRangeByLex(ctx, zsetKey, &redis.ZRangeBy{Min: "-", Max: "+"}).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(members) == 0 {
		return []model.Appointment{}, nil
	}

	itemKeys := make([]string, 0, len(members))
	for _, m := range members {
		sep := strings.LastIndex(m, memberSep)
		if sep < 0 {
			continue
		}
		itemKeys = append(itemKeys, itemKey(keys.Primary(tenantID, m[sep+1:])))
	}
	if len(itemKeys) == 0 {
		return []model.Appointment{}, nil
	}

	raws, err := s.rdb.MGet(ctx, itemKeys...).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	out := make([]model.Appointment, 0, len(raws))
	for _, raw := range raws {
		// A nil entry is an index member whose item already expired; the
		// sweeper will remove the orphan.
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var rec model.Appointment
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, unavailable(err)
		}
		out = append(out, rec)
	}
	return f.Apply(out), nil
}

// Update merges the patch into the stored record and rewrites it. When the
// start time moves, both index members are replaced in the same script.
// Concurrent updates are last-write-wins; there is no concurrency token.
func (s *Store) Update(ctx context.Context, tenantID, appointmentID string, id authz.Identity, p model.Patch) (model.Appointment, error) {
	rec, err := s.GetByID(ctx, tenantID, appointmentID, id)
	if err != nil {
		return model.Appointment{}, err
	}

	merged := rec
	if p.Title != nil {
		if strings.TrimSpace(*p.Title) == "" {
			return model.Appointment{}, invalid("title", "must not be empty")
		}
		merged.Title = *p.Title
	}
	if p.Description != nil {
		merged.Description = *p.Description
	}
	if p.Location != nil {
		merged.Location = *p.Location
	}
	if p.Attendees != nil {
		merged.Attendees = p.Attendees
	}
	if p.StartTime != nil {
		merged.StartTime = p.StartTime.UTC()
	}
	if p.EndTime != nil {
		merged.EndTime = p.EndTime.UTC()
	}
	// Validate the merged result, not the patch: a patch may move just one
	// endpoint.
	if p.StartTime != nil || p.EndTime != nil {
		if !merged.EndTime.After(merged.StartTime) {
			return model.Appointment{}, invalid("end_time", "must be after start_time")
		}
	}
	if p.Status != nil {
		next, err := model.ParseStatus(string(*p.Status))
		if err != nil {
			return model.Appointment{}, invalid("status", err.Error())
		}
		if !rec.Status.CanTransitionTo(next) {
			return model.Appointment{}, invalid("status", "transition from "+string(rec.Status)+" to "+string(next)+" not allowed")
		}
		merged.Status = next
	}
	if p.ReminderLeadMinutes != nil {
		if *p.ReminderLeadMinutes < 0 || *p.ReminderLeadMinutes > maxReminderLeadMinutes {
			return model.Appointment{}, invalid("reminder_lead_minutes", "must be between 0 and 10080")
		}
		merged.ReminderLeadMinutes = *p.ReminderLeadMinutes
	}
	merged.UpdatedAt = s.now().UTC()

	doc, err := json.Marshal(merged)
	if err != nil {
		return model.Appointment{}, err
	}

	pk := keys.Primary(merged.TenantID, merged.ID)
	scriptKeys := []string{
		itemKey(pk),
		tenantIndexPrefix + keys.TenantIndex(merged.TenantID, merged.StartTime).PK,
		ownerIndexPrefix + keys.OwnerIndex(merged.TenantID, merged.OwnerUserID, merged.StartTime).PK,
	}
	res, err := updateScript.Run(ctx, s.rdb, scriptKeys,
		doc,
		tenantMember(rec),
		tenantMember(merged),
		ownerMember(rec),
		ownerMember(merged),
	).Int()
	if err != nil {
		return model.Appointment{}, unavailable(err)
	}
	if res == 0 {
		// Deleted between the read and the write.
		return model.Appointment{}, ErrNotFound
	}
	return merged, nil
}

// Delete removes the record and its index entries. Deleting an absent record
// is not an error; the boolean reports whether anything was removed.
func (s *Store) Delete(ctx context.Context, tenantID, appointmentID string, id authz.Identity) (bool, error) {
	rec, err := s.GetByID(ctx, tenantID, appointmentID, id)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return s.remove(ctx, rec)
}

// PurgeExpired removes up to limit records whose expiresAt is not after now,
// together with their index entries, and returns the purged records.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 100
	}
	due, err := s.rdb.ZRangeByScore(ctx, expiryKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UTC().Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	var purged []model.Appointment
	for _, key := range due {
		raw, err := s.rdb.Get(ctx, key).Bytes()
		if err == redis.Nil {
			// Item already gone; drop the stale expiry member.
			if err := s.rdb.ZRem(ctx, expiryKey, key).Err(); err != nil {
				return purged, unavailable(err)
			}
			continue
		}
		if err != nil {
			return purged, unavailable(err)
		}
		var rec model.Appointment
		if err := json.Unmarshal(raw, &rec); err != nil {
			// Unreadable item: remove what we can address directly.
			if err := s.rdb.Del(ctx, key).Err(); err != nil {
				return purged, unavailable(err)
			}
			if err := s.rdb.ZRem(ctx, expiryKey, key).Err(); err != nil {
				return purged, unavailable(err)
			}
			continue
		}
		removed, err := s.remove(ctx, rec)
		if err != nil {
			return purged, err
		}
		if removed {
			purged = append(purged, rec)
		}
	}
	return purged, nil
}

func (s *Store) remove(ctx context.Context, rec model.Appointment) (bool, error) {
	pk := keys.Primary(rec.TenantID, rec.ID)
	scriptKeys := []string{
		itemKey(pk),
		tenantIndexPrefix + keys.TenantIndex(rec.TenantID, rec.StartTime).PK,
		ownerIndexPrefix + keys.OwnerIndex(rec.TenantID, rec.OwnerUserID, rec.StartTime).PK,
		expiryKey,
	}
	res, err := deleteScript.Run(ctx, s.rdb, scriptKeys, tenantMember(rec), ownerMember(rec)).Int()
	if err != nil {
		return false, unavailable(err)
	}
	return res == 1, nil
}

func itemKey(pk keys.PrimaryKey) string {
	return pk.PK + "/" + pk.SK
}

func tenantMember(rec model.Appointment) string {
	return keys.TenantIndex(rec.TenantID, rec.StartTime).SK + memberSep + rec.ID
}

func ownerMember(rec model.Appointment) string {
	return keys.OwnerIndex(rec.TenantID, rec.OwnerUserID, rec.StartTime).SK + memberSep + rec.ID
}
