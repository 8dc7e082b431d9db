package lock

import (
	"context"
	"errors"

	"collabdoc/backend/internal/entity"
	"collabdoc/backend/internal/repo"
)

type Action int

const (
	ActionView Action = iota
	ActionEdit
	ActionManage
)

// Actor is the authenticated caller.
type Actor struct {
	UserID   string
	UserName string
	Role     string
}

func (a Actor) IsAdmin() bool { return a.Role == entity.RoleAdmin }

var ErrForbidden = errors.New("no permission for this document")

// Can reports whether actor may perform action on doc. Admins and the owner
// may do anything; collaborators may view, and edit when they are editors.
func Can(ctx context.Context, docs repo.DocumentRepo, doc *entity.Document, actor Actor, action Action) (bool, error) {
	if actor.IsAdmin() || doc.OwnerID == actor.UserID {
		return true, nil
	}
	c, err := docs.GetCollaborator(ctx, doc.ID, actor.UserID)
	if err != nil {
		return false, err
	}
	if c == nil {
		return false, nil
	}
	switch action {
	case ActionView:
		return true, nil
	case ActionEdit:
		return c.Role == entity.RoleEditor, nil
	default:
		return false, nil
	}
}
