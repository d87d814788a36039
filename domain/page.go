package domain

// DefaultPerPage is the fixed list page size.
const DefaultPerPage = 10

// Page is one slice of the task listing plus its cursor.
type Page struct {
	Data        []Task `json:"data"`
	CurrentPage int    `json:"current_page"`
	LastPage    int    `json:"last_page"`
	PerPage     int    `json:"per_page"`
	Total       int    `json:"total"`
	From        *int   `json:"from"`
	To          *int   `json:"to"`
}

// NewPage derives the cursor from the requested page and the total row count.
// A page past the end is returned empty with nil From/To.
func NewPage(data []Task, page, perPage, total int) Page {
	if data == nil {
		data = []Task{}
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	last := (total + perPage - 1) / perPage
	if last < 1 {
		last = 1
	}
	p := Page{
		Data:        data,
		CurrentPage: page,
		LastPage:    last,
		PerPage:     perPage,
		Total:       total,
	}
	if len(data) > 0 {
		from := (page-1)*perPage + 1
		to := from + len(data) - 1
		p.From = &from
		p.To = &to
	}
	return p
}
