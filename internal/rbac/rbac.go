package rbac

import (
	"fmt"
	"sort"
	"strings"
)

// Role is one of the closed set of portal roles.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleInstructor Role = "instructor"
	RoleParent     Role = "parent"
	RoleStudent    Role = "student"
)

// Permission names a capability. Matching is exact and case-sensitive.
type Permission string

const (
	// users and enrollments
	ManageAllUsers       Permission = "manage_all_users"
	ManageEnrollments    Permission = "manage_enrollments"
	ManageOwnEnrollments Permission = "manage_own_enrollments"
	ViewAllStudents      Permission = "view_all_students"
	ViewAssignedStudents Permission = "view_assigned_students"

	// teaching
	ManageAttendance Permission = "manage_attendance"
	SubmitGrades     Permission = "submit_grades"
	ManageSchedules  Permission = "manage_schedules"
	ViewSchedule     Permission = "view_schedule"

	// progress and certificates
	ViewChildProgress   Permission = "view_child_progress"
	ViewOwnProgress     Permission = "view_own_progress"
	ManageCertificates  Permission = "manage_certificates"
	IssueCertificates   Permission = "issue_certificates"
	ViewCertificates    Permission = "view_certificates"
	ViewOwnCertificates Permission = "view_own_certificates"

	// billing
	ManagePayments Permission = "manage_payments"
	MakePayments   Permission = "make_payments"
	ViewPayments   Permission = "view_payments"

	// community, chat, events
	UseChat           Permission = "use_chat"
	ModerateChat      Permission = "moderate_chat"
	PostCommunity     Permission = "post_community"
	ModerateCommunity Permission = "moderate_community"
	ManageEvents      Permission = "manage_events"
	RegisterEvents    Permission = "register_events"

	// site
	ManageSiteSettings Permission = "manage_site_settings"
	ViewReports        Permission = "view_reports"
	ViewAuditLog       Permission = "view_audit_log"
)

// rolePermissions is the authored table. Keep entries unique per role,
// TestTable_NoDuplicates enforces it.
var rolePermissions = map[Role][]Permission{
	RoleAdmin: {
		ManageAllUsers,
		ManageEnrollments,
		ViewAllStudents,
		ManageAttendance,
		SubmitGrades,
		ManageSchedules,
		ViewSchedule,
		ManageCertificates,
		IssueCertificates,
		ViewCertificates,
		ManagePayments,
		ViewPayments,
		UseChat,
		ModerateChat,
		PostCommunity,
		ModerateCommunity,
		ManageEvents,
		ManageSiteSettings,
		ViewReports,
		ViewAuditLog,
	},
	RoleInstructor: {
		ViewAssignedStudents,
		ManageAttendance,
		SubmitGrades,
		ViewSchedule,
		IssueCertificates,
		UseChat,
		PostCommunity,
		RegisterEvents,
	},
	RoleParent: {
		ManageOwnEnrollments,
		ViewChildProgress,
		ViewSchedule,
		ViewCertificates,
		MakePayments,
		ViewPayments,
		UseChat,
		PostCommunity,
		RegisterEvents,
	},
	RoleStudent: {
		ViewOwnProgress,
		ViewSchedule,
		ViewOwnCertificates,
		UseChat,
		PostCommunity,
		RegisterEvents,
	},
}

// roleAliases maps alternate spellings seen in session claims to a defined role.
var roleAliases = map[string]Role{
	"child": RoleStudent,
}

// ParseRole normalizes s into a defined Role. ok is false for anything outside
// the closed set.
func ParseRole(s string) (Role, bool) {
	x := strings.ToLower(strings.TrimSpace(s))
	if r, ok := roleAliases[x]; ok {
		return r, true
	}
	r := Role(x)
	if _, ok := rolePermissions[r]; !ok {
		return "", false
	}
	return r, true
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	_, ok := rolePermissions[r]
	return ok
}

func (r Role) String() string { return string(r) }

// Roles returns the defined roles in a stable order.
func Roles() []Role { return sortedRoles(rolePermissions) }

// HasPermission reports whether role holds permission. Unknown roles hold nothing.
func HasPermission(role Role, permission Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// CanAccess is HasPermission under the name authorization gates use.
func CanAccess(role Role, permission Permission) bool {
	return HasPermission(role, permission)
}

// PermissionsForRole returns a copy of the permission set for role, empty for
// an unknown role.
func PermissionsForRole(role Role) []Permission {
	ps := rolePermissions[role]
	out := make([]Permission, len(ps))
	copy(out, ps)
	return out
}

// Table returns a copy of the whole table for auditing.
func Table() map[Role][]Permission {
	out := make(map[Role][]Permission, len(rolePermissions))
	for r := range rolePermissions {
		out[r] = PermissionsForRole(r)
	}
	return out
}

// validateTable reports every duplicate entry in t.
func validateTable(t map[Role][]Permission) error {
	var dups []string
	for _, r := range sortedRoles(t) {
		seen := make(map[Permission]bool, len(t[r]))
		for _, p := range t[r] {
			if seen[p] {
				dups = append(dups, fmt.Sprintf("%s/%s", r, p))
			}
			seen[p] = true
		}
	}
	if len(dups) > 0 {
		return fmt.Errorf("duplicate permissions: %s", strings.Join(dups, ", "))
	}
	return nil
}

func sortedRoles(t map[Role][]Permission) []Role {
	out := make([]Role, 0, len(t))
	for r := range t {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
