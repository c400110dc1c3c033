package model

import (
	"fmt"
	"strings"
	"time"
)

// common carries the columns shared by every item table.
type common struct {
	ID string `json:"id" gorm:"primaryKey"`
	TenantScope
	TemporalFields
	CreatedAt time.Time              `json:"createdAt" gorm:"not null;index:,sort:desc"`
	Metadata  map[string]interface{} `json:"metadata" gorm:"type:jsonb;serializer:json;not null;default:'{}'"`
	// IndexedAt tracks vector index sync state. NULL means pending indexing.
	IndexedAt *time.Time `json:"-" gorm:"column:indexed_at"`
}

func (c *common) GetID() string             { return c.ID }
func (c *common) SetID(id string)           { c.ID = id }
func (c *common) Tenant() *TenantScope      { return &c.TenantScope }
func (c *common) GetCreatedAt() time.Time   { return c.CreatedAt }
func (c *common) SetCreatedAt(t time.Time)  { c.CreatedAt = t }
func (c *common) Temporal() *TemporalFields { return &c.TemporalFields }

func (c *common) GetMetadata() map[string]interface{}  { return c.Metadata }
func (c *common) SetMetadata(m map[string]interface{}) { c.Metadata = m }

// ChatMessage is one message of a chat session, treated as a memory item
// subject to decay and rehearsal. BirthTime is the message timestamp.
type ChatMessage struct {
	common
	SessionID string `json:"sessionId" gorm:"not null;index"`
	Role      string `json:"role" gorm:"not null"`
	Content   string `json:"content" gorm:"not null"`
	// AgentID identifies the agent that produced an assistant message.
	AgentID         *string `json:"agentId,omitempty"`
	ParentMessageID *string `json:"parentMessageId,omitempty"`
}

func (ChatMessage) TableName() string        { return "chat_messages" }
func (m *ChatMessage) ItemKind() Kind        { return KindChat }
func (m *ChatMessage) BirthTime() time.Time  { return m.CreatedAt }
func (m *ChatMessage) LexicalText() string   { return m.Content }
func (m *ChatMessage) EmbeddableFields() []FieldText {
	return []FieldText{{Field: "content", Text: m.Content}}
}

func (m *ChatMessage) ContentFields() map[string]interface{} {
	fields := map[string]interface{}{
		"sessionId": m.SessionID,
		"role":      m.Role,
		"content":   m.Content,
	}
	if m.AgentID != nil {
		fields["agentId"] = *m.AgentID
	}
	if m.ParentMessageID != nil {
		fields["parentMessageId"] = *m.ParentMessageID
	}
	return fields
}

func (m *ChatMessage) ValidateContent() error {
	if m.SessionID == "" {
		return fmt.Errorf("sessionId is required")
	}
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return fmt.Errorf("role must be one of user, assistant, system; got %q", m.Role)
	}
	if m.Content == "" {
		return fmt.Errorf("content is required")
	}
	return nil
}

// EpisodicEvent records something that happened. Age is measured from
// OccurredAt, not from the insertion time.
type EpisodicEvent struct {
	common
	Actor      string    `json:"actor" gorm:"not null"`
	EventType  string    `json:"eventType" gorm:"not null"`
	Summary    string    `json:"summary" gorm:"not null"`
	Details    string    `json:"details"`
	TreePath   string    `json:"treePath"`
	OccurredAt time.Time `json:"occurredAt" gorm:"not null;index:,sort:desc"`
}

func (EpisodicEvent) TableName() string       { return "episodic_events" }
func (e *EpisodicEvent) ItemKind() Kind       { return KindEpisodic }
func (e *EpisodicEvent) BirthTime() time.Time { return e.OccurredAt }
func (e *EpisodicEvent) LexicalText() string  { return joinNonEmpty(e.Summary, e.Details) }
func (e *EpisodicEvent) EmbeddableFields() []FieldText {
	return []FieldText{
		{Field: "summary", Text: e.Summary},
		{Field: "details", Text: e.Details},
	}
}

func (e *EpisodicEvent) ContentFields() map[string]interface{} {
	return map[string]interface{}{
		"actor":      e.Actor,
		"eventType":  e.EventType,
		"summary":    e.Summary,
		"details":    e.Details,
		"treePath":   e.TreePath,
		"occurredAt": e.OccurredAt,
	}
}

func (e *EpisodicEvent) ValidateContent() error {
	if e.EventType == "" {
		return fmt.Errorf("eventType is required")
	}
	if e.Summary == "" {
		return fmt.Errorf("summary is required")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurredAt is required")
	}
	return nil
}

// SemanticItem is a fact or concept abstracted away from any single event.
type SemanticItem struct {
	common
	Name     string `json:"name" gorm:"not null"`
	Summary  string `json:"summary" gorm:"not null"`
	Details  string `json:"details"`
	Source   string `json:"source"`
	TreePath string `json:"treePath"`
}

func (SemanticItem) TableName() string       { return "semantic_items" }
func (s *SemanticItem) ItemKind() Kind       { return KindSemantic }
func (s *SemanticItem) BirthTime() time.Time { return s.CreatedAt }
func (s *SemanticItem) LexicalText() string  { return joinNonEmpty(s.Summary, s.Details) }
func (s *SemanticItem) EmbeddableFields() []FieldText {
	return []FieldText{
		{Field: "summary", Text: s.Summary},
		{Field: "details", Text: s.Details},
	}
}

func (s *SemanticItem) ContentFields() map[string]interface{} {
	return map[string]interface{}{
		"name":     s.Name,
		"summary":  s.Summary,
		"details":  s.Details,
		"source":   s.Source,
		"treePath": s.TreePath,
	}
}

func (s *SemanticItem) ValidateContent() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Summary == "" {
		return fmt.Errorf("summary is required")
	}
	return nil
}

// ProceduralItem captures how to do something, as an ordered step list.
type ProceduralItem struct {
	common
	SkillName   string   `json:"skillName" gorm:"not null"`
	Description string   `json:"description" gorm:"not null"`
	Steps       []string `json:"steps" gorm:"type:jsonb;serializer:json;not null;default:'[]'"`
}

func (ProceduralItem) TableName() string       { return "procedural_items" }
func (p *ProceduralItem) ItemKind() Kind       { return KindProcedural }
func (p *ProceduralItem) BirthTime() time.Time { return p.CreatedAt }
func (p *ProceduralItem) LexicalText() string  { return p.Description }
func (p *ProceduralItem) EmbeddableFields() []FieldText {
	return []FieldText{{Field: "description", Text: p.Description}}
}

func (p *ProceduralItem) ContentFields() map[string]interface{} {
	return map[string]interface{}{
		"skillName":   p.SkillName,
		"description": p.Description,
		"steps":       p.Steps,
	}
}

func (p *ProceduralItem) ValidateContent() error {
	if p.SkillName == "" {
		return fmt.Errorf("skillName is required")
	}
	if p.Description == "" {
		return fmt.Errorf("description is required")
	}
	return nil
}

// ResourceItem points at an external artifact (document, repo, URL).
type ResourceItem struct {
	common
	ResourceName string `json:"resourceName" gorm:"not null"`
	Description  string `json:"description" gorm:"not null"`
	ResourceType string `json:"resourceType" gorm:"not null"`
	Location     string `json:"location"`
}

func (ResourceItem) TableName() string       { return "resource_items" }
func (r *ResourceItem) ItemKind() Kind       { return KindResource }
func (r *ResourceItem) BirthTime() time.Time { return r.CreatedAt }
func (r *ResourceItem) LexicalText() string  { return r.Description }
func (r *ResourceItem) EmbeddableFields() []FieldText {
	return []FieldText{{Field: "description", Text: r.Description}}
}

func (r *ResourceItem) ContentFields() map[string]interface{} {
	return map[string]interface{}{
		"resourceName": r.ResourceName,
		"description":  r.Description,
		"resourceType": r.ResourceType,
		"location":     r.Location,
	}
}

func (r *ResourceItem) ValidateContent() error {
	if r.ResourceName == "" {
		return fmt.Errorf("resourceName is required")
	}
	if r.Description == "" {
		return fmt.Errorf("description is required")
	}
	if r.ResourceType == "" {
		return fmt.Errorf("resourceType is required")
	}
	return nil
}

// KnowledgeVaultItem is a durable reference entry (credential pointer,
// address, identifier) kept verbatim.
type KnowledgeVaultItem struct {
	common
	Title     string `json:"title" gorm:"not null"`
	Content   string `json:"content" gorm:"not null"`
	VaultType string `json:"vaultType" gorm:"not null"`
}

func (KnowledgeVaultItem) TableName() string       { return "knowledge_vault_items" }
func (k *KnowledgeVaultItem) ItemKind() Kind       { return KindKnowledgeVault }
func (k *KnowledgeVaultItem) BirthTime() time.Time { return k.CreatedAt }
func (k *KnowledgeVaultItem) LexicalText() string  { return k.Content }
func (k *KnowledgeVaultItem) EmbeddableFields() []FieldText {
	return []FieldText{{Field: "content", Text: k.Content}}
}

func (k *KnowledgeVaultItem) ContentFields() map[string]interface{} {
	return map[string]interface{}{
		"title":     k.Title,
		"content":   k.Content,
		"vaultType": k.VaultType,
	}
}

func (k *KnowledgeVaultItem) ValidateContent() error {
	if k.Title == "" {
		return fmt.Errorf("title is required")
	}
	if k.Content == "" {
		return fmt.Errorf("content is required")
	}
	if k.VaultType == "" {
		return fmt.Errorf("vaultType is required")
	}
	return nil
}

// NewItem returns an empty item of the given kind.
func NewItem(kind Kind) (MemoryItem, error) {
	switch kind {
	case KindChat:
		return &ChatMessage{}, nil
	case KindEpisodic:
		return &EpisodicEvent{}, nil
	case KindSemantic:
		return &SemanticItem{}, nil
	case KindProcedural:
		return &ProceduralItem{}, nil
	case KindResource:
		return &ResourceItem{}, nil
	case KindKnowledgeVault:
		return &KnowledgeVaultItem{}, nil
	}
	return nil, fmt.Errorf("unknown memory kind %q", kind)
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}
