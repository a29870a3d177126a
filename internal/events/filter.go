package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dance-app/api-sub000/internal/apperrors"
	"github.com/dance-app/api-sub000/internal/models"
)

// MaxListLimit bounds one page of List.
const MaxListLimit = 200

// unlimited disables paging for internal series reads.
const unlimited = -1

// Filter narrows List. Every field is optional; unset fields add no predicate.
type Filter struct {
	WorkspaceID      *uuid.UUID
	SeriesID         *uuid.UUID // parent and its children
	OrganizerID      *uuid.UUID
	From             *time.Time // date_start >= From
	To               *time.Time // date_start < To
	Visibility       []models.Visibility
	IncludeCancelled bool
	Limit            int
	Offset           int
}

// Validate checks the filter bounds.
func (f Filter) Validate() error {
	if f.From != nil && f.To != nil && !f.To.After(*f.From) {
		return apperrors.Validation("to", "must be after from")
	}
	for _, v := range f.Visibility {
		if !v.Valid() {
			return &apperrors.ValidationError{Field: "visibility", Token: string(v), Message: "unknown visibility"}
		}
	}
	if f.Limit < 0 || f.Offset < 0 {
		return apperrors.Validation("limit", "must not be negative")
	}
	return nil
}

// where assembles the WHERE clause and its positional args.
func (f Filter) where() (string, []any) {
	var conds []string
	var args []any
	add := func(format string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(format, len(args)))
	}

	if f.WorkspaceID != nil {
		add("e.workspace_id = $%d", *f.WorkspaceID)
	}
	if f.SeriesID != nil {
		args = append(args, *f.SeriesID)
		n := len(args)
		conds = append(conds, fmt.Sprintf("(e.id = $%d OR e.parent_event_id = $%d)", n, n))
	}
	if f.OrganizerID != nil {
		add("(e.created_by_id = $%[1]d OR EXISTS (SELECT 1 FROM event_organizers o WHERE o.event_id = e.id AND o.user_id = $%[1]d))", *f.OrganizerID)
	}
	if f.From != nil {
		add("e.date_start >= $%d", *f.From)
	}
	if f.To != nil {
		add("e.date_start < $%d", *f.To)
	}
	if len(f.Visibility) > 0 {
		vs := make([]string, len(f.Visibility))
		for i, v := range f.Visibility {
			vs[i] = string(v)
		}
		add("e.visibility = ANY($%d)", vs)
	}
	if !f.IncludeCancelled {
		conds = append(conds, "NOT e.is_cancelled")
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (f Filter) limit() int {
	if f.Limit <= 0 || f.Limit > MaxListLimit {
		return MaxListLimit
	}
	return f.Limit
}
