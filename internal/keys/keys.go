package keys

import "time"

// This package is the single source of truth for how appointment records map
// onto the primary keyspace and the two secondary indexes. No other package
// may build keys by string concatenation; tenant isolation depends on every
// lookup path going through these functions.

const (
	tenantTag      = "TENANT#"
	appointmentTag = "APPOINTMENT#"
	userTag        = "USER#"
	startTag       = "APPT#"

	// Calendar date + time of day, UTC. Lexical order over this layout equals
	// chronological order, which is what makes index range scans come back
	// sorted by start time.
	startLayout = "2006-01-02T15:04:05"
)

// PrimaryKey addresses one appointment item. SK alone identifies the
// appointment within the PK's item collection.
type PrimaryKey struct {
	PK string
	SK string
}

// IndexKey addresses an entry in one of the secondary indexes.
type IndexKey struct {
	PK string
	SK string
}

func Primary(tenantID, appointmentID string) PrimaryKey {
	return PrimaryKey{
		PK: tenantTag + tenantID,
		SK: appointmentTag + appointmentID,
	}
}

// TenantIndex keys the tenant-wide chronological index (GSI1).
func TenantIndex(tenantID string, startTime time.Time) IndexKey {
	return IndexKey{
		PK: tenantTag + tenantID,
		SK: encodeStart(startTime),
	}
}

// OwnerIndex keys the per-owner chronological index (GSI2).
func OwnerIndex(tenantID, ownerUserID string, startTime time.Time) IndexKey {
	return IndexKey{
		PK: tenantTag + tenantID + "#" + userTag + ownerUserID,
		SK: encodeStart(startTime),
	}
}

func encodeStart(t time.Time) string {
	return startTag + t.UTC().Format(startLayout)
}
