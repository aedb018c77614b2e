package core

// DBOrdering describes a single ORDER BY term.
type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// Pagination bounds list queries. A zero Limit means no limit.
type Pagination struct {
	Limit  int `query:"limit"`
	Offset int `query:"offset"`
}

// Slice applies the pagination bounds to an in-memory result set. Bounds
// arrive straight from query parameters, so they are clamped to [0, length]
// rather than trusted.
func (p Pagination) Slice(length int) (lo, hi int) {
	lo = p.Offset
	if lo < 0 {
		lo = 0
	}
	if lo > length {
		lo = length
	}
	hi = length
	if p.Limit > 0 && lo+p.Limit < hi {
		hi = lo + p.Limit
	}
	return lo, hi
}
