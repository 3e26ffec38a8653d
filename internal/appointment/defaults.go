package appointment

// DefaultDoctors is the roster seeded into an empty directory.
func DefaultDoctors() []Doctor {
	return []Doctor{
		{Name: "Dr. Smith", Specialization: "General Medicine", Active: true},
		{Name: "Dr. Johnson", Specialization: "Cardiology", Active: true},
		{Name: "Dr. Williams", Specialization: "Pediatrics", Active: true},
		{Name: "Dr. Brown", Specialization: "Orthopedics", Active: true},
		{Name: "Dr. Davis", Specialization: "Dermatology", Active: true},
	}
}

// DefaultAccounts is seeded into an empty account store. Passwords are stored
// and compared in clear text.
func DefaultAccounts() []Account {
	return []Account{
		{Username: "admin", Password: "clinic123", Role: RoleAdmin},
		{Username: "staff", Password: "staff123", Role: RoleStaff},
	}
}
