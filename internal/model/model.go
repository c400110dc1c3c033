package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies one of the memory item kinds.
type Kind string

const (
	KindChat           Kind = "chat"
	KindEpisodic       Kind = "episodic"
	KindSemantic       Kind = "semantic"
	KindProcedural     Kind = "procedural"
	KindResource       Kind = "resource"
	KindKnowledgeVault Kind = "knowledge_vault"
)

// AllKinds returns every kind in a stable order.
func AllKinds() []Kind {
	return []Kind{KindChat, KindEpisodic, KindSemantic, KindProcedural, KindResource, KindKnowledgeVault}
}

// ParseKind validates a kind string from the API surface.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	switch k {
	case KindChat, KindEpisodic, KindSemantic, KindProcedural, KindResource, KindKnowledgeVault:
		return k, nil
	}
	return "", fmt.Errorf("unknown memory kind %q", s)
}

// idPrefixes mirror the kind so ids are self-describing in logs.
var idPrefixes = map[Kind]string{
	KindChat:           "chat",
	KindEpisodic:       "ep",
	KindSemantic:       "sem",
	KindProcedural:     "proc",
	KindResource:       "res",
	KindKnowledgeVault: "kv",
}

// NewID assigns a globally unique, kind-prefixed id.
func NewID(kind Kind) string {
	return fmt.Sprintf("%s-%s", idPrefixes[kind], uuid.NewString())
}

// Chat message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// LastModified is the audit stamp written on every mutation.
type LastModified struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
}

// Operations recorded in LastModified.
const (
	OpCreated   = "created"
	OpUpdated   = "updated"
	OpAccessed  = "accessed"
	OpRehearsed = "rehearsed"
)

// TenantScope is the (organization, user) pair that scopes visibility.
// OrganizationID is mandatory; UserID, when present, narrows visibility.
// Both are immutable after insert.
type TenantScope struct {
	OrganizationID string  `json:"organizationId" gorm:"not null;index:idx_tenant,priority:1"`
	UserID         *string `json:"userId,omitempty" gorm:"index:idx_tenant,priority:2"`
}

// TemporalFields are the counters and scores the temporal engine reads
// and the retrieval pipeline mutates.
type TemporalFields struct {
	ImportanceScore float64      `json:"importanceScore" gorm:"not null;default:0.5"`
	AccessCount     int64        `json:"accessCount" gorm:"not null;default:0"`
	LastAccessedAt  *time.Time   `json:"lastAccessedAt,omitempty"`
	RehearsalCount  int64        `json:"rehearsalCount" gorm:"not null;default:0"`
	LastModified    LastModified `json:"lastModified" gorm:"type:jsonb;serializer:json"`
}

// FieldText pairs an embeddable field name with its text content.
type FieldText struct {
	Field string
	Text  string
}

// MemoryItem is implemented by all six item kinds. The scoring engine and
// the stores operate on items through this interface.
type MemoryItem interface {
	GetID() string
	SetID(id string)
	ItemKind() Kind
	Tenant() *TenantScope
	// BirthTime is the logical birth used for age: the message timestamp
	// for chat, occurred_at for episodic events, insertion time otherwise.
	BirthTime() time.Time
	GetCreatedAt() time.Time
	SetCreatedAt(t time.Time)
	Temporal() *TemporalFields
	GetMetadata() map[string]interface{}
	SetMetadata(m map[string]interface{})
	// LexicalText concatenates the kind's lexical fields, used by
	// recent-first fallbacks and log previews.
	LexicalText() string
	// EmbeddableFields lists the (field, text) pairs the indexer embeds.
	EmbeddableFields() []FieldText
	// ContentFields returns the kind-specific content for API responses.
	ContentFields() map[string]interface{}
	// ValidateContent checks the kind-specific required fields.
	ValidateContent() error
}
