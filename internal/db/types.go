// Package db implements the persistence layer: an
// atomic key-value engine with named submaps, one per entity family,
// JSON-encoded with a hand-rolled serializer, and a monotonic user-id
// counter (next_user_id) reserved in the config submap. No other entity
// family has a counter.
//
// Grounded on neonsignal/database/{database,serialization}.c++,
// translated from libmdbx to go.etcd.io/bbolt (both are embedded
// transactional B-tree stores; bbolt is the pack's actual dependency,
// present across several example repos' go.mod manifests).
package db

import "time"

// User mirrors the original's User struct.
type User struct {
	ID uint64
	Email string
	DisplayName string
	Verified bool
	CredentialID []byte
	PublicKey []byte
	SignCount uint32
	CreatedAt time.Time
	LastLogin time.Time
}

// Session states (invariant 4).
const (
	SessionStatePreWebAuthn = "pre_webauthn"
	SessionStateAuth = "auth"
)

// TTLs for the two session states.
const (
	PreWebAuthnTTL = 5 * time.Minute
	AuthSessionTTL = 5 * 24 * time.Hour
)

// Session mirrors the original's Session struct.
type Session struct {
	ID string
	UserID uint64
	User string
	State string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Verification mirrors the original's Verification struct, keyed
// externally by SHA-256(token).
type Verification struct {
	UserID uint64
	ExpiresAt time.Time
	UsedAt time.Time
}

// CodexRecord is the persisted record for a codex content entry. Per
// "CodexRecord / CodexRun — out-of-scope content; only the
// persistence interface matters here", fields beyond id/content hash
// round-trip opaquely.
type CodexRecord struct {
	ID string
	ContentType string
	SHA256 string
	Size uint64
	CreatedAt time.Time
	Title string
	MetaTags string
	Description string
	FileRefs string
	ImageName string
	ImageType string
	ImageAlt string
	ImageMeta string
	ImageSize uint64
}

// CodexRun is the persisted record for one codex subprocess run.
type CodexRun struct {
	ID string
	BriefID string
	Status string
	Message string
	Cmdline string
	LastMessage string
	CreatedAt time.Time
	StartedAt time.Time
	FinishedAt time.Time
	ExitCode int
	DurationMS uint64
	StdoutBytes uint64
	StderrBytes uint64
	ArtifactCount uint64
}
