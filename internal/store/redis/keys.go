package redis

const (
	// KeyAppliedRoutes holds the JSON snapshot of the last-confirmed
	// applied route set.
	KeyAppliedRoutes = "dockmon:routes:applied"
)
