package models

type LeadStatus string

const (
	LeadStatusInProgress        LeadStatus = "in_progress"
	LeadStatusCompleted         LeadStatus = "completed"
	LeadStatusPendingFollowUp   LeadStatus = "pending_follow_up"
	LeadStatusPendingSubmission LeadStatus = "pending_submission"
	LeadStatusCancelled         LeadStatus = "cancelled"
)

var leadStatusLabels = map[LeadStatus]string{
	LeadStatusInProgress:        "进行中",
	LeadStatusCompleted:         "已完成",
	LeadStatusPendingFollowUp:   "待跟进",
	LeadStatusPendingSubmission: "待递交",
	LeadStatusCancelled:         "取消",
}

func (s LeadStatus) Valid() bool {
	_, ok := leadStatusLabels[s]
	return ok
}

// Label is the display name shown to users.
func (s LeadStatus) Label() string {
	return leadStatusLabels[s]
}

type Lead struct {
	BaseModel
	FirstName      string        `json:"firstName" gorm:"type:varchar(20);not null"`
	LastName       string        `json:"lastName" gorm:"type:varchar(20);not null"`
	Age            int           `json:"age" gorm:"not null;default:0"`
	PhoneNumber    string        `json:"phoneNumber" gorm:"type:varchar(20);not null;default:''"`
	Email          string        `json:"email" gorm:"type:varchar(255);not null;default:''"`
	Address        string        `json:"address" gorm:"type:varchar(255);not null;default:''"`
	Description    string        `json:"description" gorm:"type:text;not null;default:''"`
	Status         LeadStatus    `json:"status" gorm:"type:varchar(30);not null;default:'in_progress';index"`
	Quote          int64         `json:"quote" gorm:"not null;default:0"`
	Commission     float64       `json:"commission" gorm:"not null;default:0"`
	CoCommission   float64       `json:"coCommission" gorm:"not null;default:0"`
	AgentID        *uint         `json:"agentID,omitempty" gorm:"index"`
	Agent          *User         `json:"agent,omitempty" gorm:"foreignKey:AgentID"`
	ManagerID      *uint         `json:"managerID,omitempty" gorm:"index"`
	Manager        *User         `json:"manager,omitempty" gorm:"foreignKey:ManagerID"`
	OrganisationID uint          `json:"organisationID" gorm:"not null;index"`
	Organisation   *Organisation `json:"organisation,omitempty" gorm:"foreignKey:OrganisationID"`
	FollowUps      []FollowUp    `json:"-" gorm:"foreignKey:LeadID"`
	CaseValues     []CaseValue   `json:"-" gorm:"foreignKey:LeadID"`
}

func (l *Lead) FullName() string {
	return l.FirstName + " " + l.LastName
}

// AgentShare is the commission owed to the assigned agent.
func (l *Lead) AgentShare() float64 {
	return float64(l.Quote) * l.Commission / 100
}

// ManagerShare is the co-commission owed to the assigned manager.
func (l *Lead) ManagerShare() float64 {
	return float64(l.Quote) * l.CoCommission / 100
}
