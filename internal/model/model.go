package model

import (
	"time"

	"github.com/google/uuid"
)

// ConversationType identifies how a conversation was provisioned and what it
// is scoped to.
type ConversationType string

const (
	// TypeTeamGroup is the single shared conversation of a whole team.
	TypeTeamGroup ConversationType = "team-group"
	// TypeTeamLeaderPrivate is shared by one non-leader member and all of the
	// team's leaders.
	TypeTeamLeaderPrivate ConversationType = "team-leader-private"
	// TypeArtistApplication is attached to an artist application and reaches
	// its edition only through that application.
	TypeArtistApplication ConversationType = "artist-application"
	// TypeOrganizersGroup is the edition-wide organizer conversation.
	TypeOrganizersGroup ConversationType = "organizers-group"
)

// TeamScoped returns true for conversation types that carry a team ID.
func (t ConversationType) TeamScoped() bool {
	return t == TypeTeamGroup || t == TypeTeamLeaderPrivate
}

// Conversation is a provisioned conversation. Group conversations are unique
// per (edition, team); leader-private conversations are identified by the set
// of their participants, not by a key.
type Conversation struct {
	ID            uuid.UUID        `json:"id"                      gorm:"primaryKey;type:uuid"`
	EditionID     uuid.UUID        `json:"editionId"               gorm:"not null;type:uuid"`
	TeamID        *uuid.UUID       `json:"teamId,omitempty"        gorm:"type:uuid"`
	ApplicationID *uuid.UUID       `json:"applicationId,omitempty" gorm:"type:uuid"`
	Type          ConversationType `json:"type"                    gorm:"not null"`
	CreatedAt     time.Time        `json:"createdAt"               gorm:"not null;default:now()"`
	UpdatedAt     time.Time        `json:"updatedAt"               gorm:"not null;default:now()"`
}

func (Conversation) TableName() string { return "conversations" }

// Participant links a user to a conversation. A user is in a conversation iff
// their row has LeftAt = nil; leaving and rejoining reuses the same row so
// LastReadAt survives.
type Participant struct {
	ID             uuid.UUID  `json:"-"                    gorm:"primaryKey;type:uuid"`
	ConversationID uuid.UUID  `json:"-"                    gorm:"not null;type:uuid"`
	UserID         string     `json:"userId"               gorm:"not null"`
	JoinedAt       time.Time  `json:"joinedAt"             gorm:"not null;default:now()"`
	LastReadAt     *time.Time `json:"lastReadAt,omitempty"`
	LeftAt         *time.Time `json:"-"`
}

func (Participant) TableName() string { return "participants" }

// Active reports whether the participant is currently in the conversation.
func (p Participant) Active() bool { return p.LeftAt == nil }

// Message is a single message. Only its author, timestamp, and content
// preview matter to this service; rendering is the main application's
// concern.
type Message struct {
	ID             uuid.UUID  `json:"id"                  gorm:"primaryKey;type:uuid"`
	ConversationID uuid.UUID  `json:"conversationId"      gorm:"not null;type:uuid"`
	AuthorUserID   string     `json:"authorUserId"        gorm:"not null"`
	Content        string     `json:"content"             gorm:"not null"`
	CreatedAt      time.Time  `json:"createdAt"           gorm:"not null;default:now()"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
}

func (Message) TableName() string { return "messages" }

// ApplicationStatus is the lifecycle state of a volunteer/artist application.
type ApplicationStatus string

const (
	StatusPending  ApplicationStatus = "pending"
	StatusAccepted ApplicationStatus = "accepted"
	StatusRejected ApplicationStatus = "rejected"
)

// Application is a read-only row owned by the main application. The
// membership source joins it with team assignments; provisioning only ever
// sees accepted applications.
type Application struct {
	ID        uuid.UUID         `gorm:"primaryKey;type:uuid"`
	EditionID uuid.UUID         `gorm:"not null;type:uuid"`
	UserID    string            `gorm:"not null"`
	Status    ApplicationStatus `gorm:"not null;default:'pending'"`
	IsArtist  bool              `gorm:"not null;default:false"`
	CreatedAt time.Time         `gorm:"not null;default:now()"`
}

func (Application) TableName() string { return "applications" }

// TeamAssignment is a read-only row owned by the main application, linking an
// application to a team with an optional leader designation.
type TeamAssignment struct {
	ID            uuid.UUID `gorm:"primaryKey;type:uuid"`
	ApplicationID uuid.UUID `gorm:"not null;type:uuid"`
	TeamID        uuid.UUID `gorm:"not null;type:uuid"`
	IsLeader      bool      `gorm:"not null;default:false"`
	CreatedAt     time.Time `gorm:"not null;default:now()"`
}

func (TeamAssignment) TableName() string { return "team_assignments" }

// EditionOrganizer is a read-only row granting organizer rights for one
// edition. Convention-wide organizers carry the flag on their rows.
type EditionOrganizer struct {
	EditionID      uuid.UUID `gorm:"primaryKey;type:uuid"`
	UserID         string    `gorm:"primaryKey"`
	ConventionWide bool      `gorm:"not null;default:false"`
}

func (EditionOrganizer) TableName() string { return "edition_organizers" }
