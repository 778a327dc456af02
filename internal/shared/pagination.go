package shared

// Listing limits shared by list endpoints.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ClampLimit bounds a requested page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
