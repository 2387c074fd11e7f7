package models

// SupervisionEdge links an agent or manager to the user it reports to.
// A user has at most one edge.
type SupervisionEdge struct {
	BaseModel
	UserID       uint  `json:"userID" gorm:"not null;uniqueIndex"`
	User         *User `json:"user,omitempty" gorm:"foreignKey:UserID"`
	SupervisorID uint  `json:"supervisorID" gorm:"not null;index"`
	Supervisor   *User `json:"supervisor,omitempty" gorm:"foreignKey:SupervisorID"`
}
