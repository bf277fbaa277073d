package pagination

import (
	"fmt"
	"strconv"
)

// Params represents limit/offset query parameters
type Params struct {
	Limit  int
	Offset int
}

// Constants
const (
	DefaultLimit = 20
	MaxLimit     = 100
	MinLimit     = 1
)

// Parse parses limit and offset from query strings.
// An empty or zero limit falls back to defaultLimit; larger limits are capped at maxLimit.
func Parse(limitStr, offsetStr string, defaultLimit, maxLimit int) (*Params, error) {
	if defaultLimit < MinLimit {
		defaultLimit = DefaultLimit
	}
	if maxLimit < defaultLimit {
		maxLimit = defaultLimit
	}

	limit := defaultLimit
	if limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, fmt.Errorf("invalid limit parameter: %w", err)
		}
		switch {
		case l < 0:
			return nil, fmt.Errorf("invalid limit parameter: %d", l)
		case l == 0:
			limit = defaultLimit
		case l > maxLimit:
			limit = maxLimit
		default:
			limit = l
		}
	}

	offset := 0
	if offsetStr != "" {
		o, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, fmt.Errorf("invalid offset parameter: %w", err)
		}
		if o < 0 {
			return nil, fmt.Errorf("invalid offset parameter: %d", o)
		}
		offset = o
	}

	return &Params{Limit: limit, Offset: offset}, nil
}

// HasMore reports whether a full page was returned, so another may follow
func (p *Params) HasMore(returned int) bool {
	return returned >= p.Limit
}

// Next returns the params for the following page
func (p *Params) Next() *Params {
	return &Params{Limit: p.Limit, Offset: p.Offset + p.Limit}
}
