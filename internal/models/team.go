package models

type Team struct {
	BaseModel
	Name           string       `json:"name" gorm:"type:varchar(255);not null;uniqueIndex:idx_team_name_leader"`
	LeaderID       uint         `json:"leaderID" gorm:"not null;uniqueIndex:idx_team_name_leader"`
	Leader         *User        `json:"leader,omitempty" gorm:"foreignKey:LeaderID"`
	OrganisationID uint         `json:"organisationID" gorm:"not null;index"`
	Members        []TeamMember `json:"members,omitempty" gorm:"foreignKey:TeamID"`
}

type TeamMember struct {
	BaseModel
	TeamID   uint  `json:"teamID" gorm:"not null;uniqueIndex:idx_team_member"`
	MemberID uint  `json:"memberID" gorm:"not null;uniqueIndex:idx_team_member"`
	Member   *User `json:"member,omitempty" gorm:"foreignKey:MemberID"`
}

// MemberIDs returns the leader followed by every member.
func (t *Team) MemberIDs() []uint {
	ids := []uint{t.LeaderID}
	for _, m := range t.Members {
		ids = append(ids, m.MemberID)
	}
	return ids
}
