package usercontext

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/storehubhq/storehub-backend/api/middleware"
	pkgerrors "github.com/storehubhq/storehub-backend/pkg/errors"
)

// ResolveUserID reads the authenticated user's id from the request context.
func ResolveUserID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user context")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user context")
	}
	return id, nil
}
