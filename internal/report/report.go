// Package report computes the admin dashboard from the catalog, member and
// issue stores. Nothing is cached; each call recomputes from the records.
package report

type Summary struct {
	Students      int `json:"students"`
	Admins        int `json:"admins"`
	Books         int `json:"books"`
	ActiveIssues  int `json:"active_issues"`
	OverdueIssues int `json:"overdue_issues"`
}

// MonthCount is the number of records created in one calendar month (UTC).
type MonthCount struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Count int `json:"count"`
}

// Growth holds monthly creation counts in ascending order.
type Growth struct {
	Books  []MonthCount `json:"books"`
	Issues []MonthCount `json:"issues"`
}
