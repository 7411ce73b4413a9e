package audit

import "context"

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// RepositoryPort defines data access methods for the audit listing.
type RepositoryPort interface {
	List(ctx context.Context, f Filters, limit, offset int) ([]Entry, error)
}

// Page is one page of audit entries.
type Page struct {
	Entries []Entry
	HasNext bool
}

// Service serves the read side of the audit trail.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// List returns one page of entries matching the filters.
func (s *Service) List(ctx context.Context, f Filters) (Page, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}

	offset := (f.Page - 1) * f.PageSize
	entries, err := s.repo.List(ctx, f, f.PageSize+1, offset)
	if err != nil {
		return Page{}, err
	}

	page := Page{Entries: entries}
	if len(entries) > f.PageSize {
		page.Entries = entries[:f.PageSize]
		page.HasNext = true
	}
	return page, nil
}
