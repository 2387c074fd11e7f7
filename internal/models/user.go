package models

import "strings"

// Tier is the permission level of a user. Exactly one tier applies to every
// account.
type Tier string

const (
	TierAgent      Tier = "agent"
	TierManager    Tier = "manager"
	TierOrganiser  Tier = "organiser"
	TierSuperAdmin Tier = "superadmin"
)

// Level returns the numeric level 1-4, or 0 for an unknown tier.
func (t Tier) Level() int {
	switch t {
	case TierAgent:
		return 1
	case TierManager:
		return 2
	case TierOrganiser:
		return 3
	case TierSuperAdmin:
		return 4
	default:
		return 0
	}
}

func (t Tier) Valid() bool {
	return t.Level() > 0
}

// Supervised reports whether users of this tier hang off a SupervisionEdge
// rather than owning an organisation.
func (t Tier) Supervised() bool {
	return t == TierAgent || t == TierManager
}

// ParseTier accepts the tier name or its numeric level.
func ParseTier(value string) (Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "agent", "1":
		return TierAgent, true
	case "manager", "2":
		return TierManager, true
	case "organiser", "organizer", "3":
		return TierOrganiser, true
	case "superadmin", "4":
		return TierSuperAdmin, true
	default:
		return "", false
	}
}

type User struct {
	BaseModel
	Username       string        `json:"username" gorm:"type:varchar(150);uniqueIndex;not null"`
	Email          string        `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash   string        `json:"-" gorm:"type:text;not null"`
	FirstName      string        `json:"firstName" gorm:"type:varchar(100);not null;default:''"`
	LastName       string        `json:"lastName" gorm:"type:varchar(100);not null;default:''"`
	Tier           Tier          `json:"tier" gorm:"type:varchar(20);not null;default:'agent';index"`
	OrganisationID *uint         `json:"organisationID,omitempty" gorm:"index"`
	Organisation   *Organisation `json:"organisation,omitempty" gorm:"foreignKey:OrganisationID"`
}

func (u *User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}
