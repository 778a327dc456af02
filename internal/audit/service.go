package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fuelsync/fuelsync/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxWindow       = 90 * 24 * time.Hour
	maxExportRows   = 5000
)

// WindowQuery is what the repository needs to read one slice of the trail.
type WindowQuery struct {
	TimelineFilters
	Offset int
	Limit  int
}

// Repository reads audit_logs.
type Repository interface {
	TimelineWindow(ctx context.Context, q WindowQuery) ([]TimelineRow, error)
}

// Service serves the audit trail.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService builds an audit timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Timeline returns one page of events, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, errors.New("audit: repository not configured")
	}
	filters, err := s.normalize(filters)
	if err != nil {
		return Result{}, err
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	rows, err := s.repo.TimelineWindow(ctx, WindowQuery{
		TimelineFilters: filters,
		Offset:          (page - 1) * pageSize,
		Limit:           pageSize + 1,
	})
	if err != nil {
		return Result{}, fmt.Errorf("audit: timeline: %w", err)
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	if rows == nil {
		rows = []TimelineRow{}
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns every event matching filters up to a fixed cap.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	filters, err := s.normalize(filters)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.TimelineWindow(ctx, WindowQuery{TimelineFilters: filters, Limit: maxExportRows})
	if err != nil {
		return nil, fmt.Errorf("audit: export: %w", err)
	}
	return rows, nil
}

// normalize defaults the window to the last seven days and bounds it.
func (s *Service) normalize(f TimelineFilters) (TimelineFilters, error) {
	if f.TenantID <= 0 {
		return f, shared.NewValidationError("tenant", "is required")
	}
	if f.To.IsZero() {
		f.To = s.now().UTC()
	}
	if f.From.IsZero() {
		f.From = f.To.Add(-7 * 24 * time.Hour)
	}
	if !f.From.Before(f.To) {
		return f, shared.NewValidationError("from", "must be before to")
	}
	if f.To.Sub(f.From) > maxWindow {
		return f, shared.NewValidationError("from", "window exceeds 90 days")
	}
	return f, nil
}
