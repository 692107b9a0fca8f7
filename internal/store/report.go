package store

import (
	"context"
	"sort"
	"time"

	"libraryapi/internal/circulation"
	"libraryapi/internal/report"
)

// ReportSource implements report.Source.
type ReportSource struct {
	m *Memory
}

var _ report.Source = (*ReportSource)(nil)

func (r *ReportSource) CountMembersByRole(_ context.Context) (map[string]int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	out := map[string]int{}
	for _, mb := range r.m.st.members {
		out[mb.Role]++
	}
	return out, nil
}

func (r *ReportSource) CountBooks(_ context.Context) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return len(r.m.st.books), nil
}

func (r *ReportSource) CountActiveIssues(_ context.Context) (int, error) {
	return r.countIssues(func(is circulation.Issue) bool { return is.Active() }), nil
}

func (r *ReportSource) CountLateIssues(_ context.Context, now time.Time) (int, error) {
	return r.countIssues(func(is circulation.Issue) bool { return late(is, now) }), nil
}

func (r *ReportSource) countIssues(keep func(circulation.Issue) bool) int {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	n := 0
	for _, is := range r.m.st.issues {
		if keep(is) {
			n++
		}
	}
	return n
}

func (r *ReportSource) MonthlyBooks(_ context.Context) ([]report.MonthCount, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	stamps := make([]time.Time, 0, len(r.m.st.books))
	for _, b := range r.m.st.books {
		stamps = append(stamps, b.CreatedAt)
	}
	return monthly(stamps), nil
}

func (r *ReportSource) MonthlyIssues(_ context.Context) ([]report.MonthCount, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	stamps := make([]time.Time, 0, len(r.m.st.issues))
	for _, is := range r.m.st.issues {
		stamps = append(stamps, is.CreatedAt)
	}
	return monthly(stamps), nil
}

func monthly(stamps []time.Time) []report.MonthCount {
	type ym struct{ y, m int }
	counts := map[ym]int{}
	for _, t := range stamps {
		t = t.UTC()
		counts[ym{t.Year(), int(t.Month())}]++
	}
	out := make([]report.MonthCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, report.MonthCount{Year: k.y, Month: k.m, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Month < out[j].Month
	})
	return out
}
