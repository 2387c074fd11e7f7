package models

// All lists every persisted model in migration order.
func All() []interface{} {
	return []interface{}{
		&Organisation{},
		&User{},
		&SupervisionEdge{},
		&Lead{},
		&CaseField{},
		&CaseValue{},
		&FollowUp{},
		&Folder{},
		&FolderDocument{},
		&Team{},
		&TeamMember{},
		&WorkReport{},
		&AuditLog{},
	}
}
