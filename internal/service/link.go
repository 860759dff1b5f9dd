package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/ralendar/oauth-server/internal/errs"
	"github.com/ralendar/oauth-server/internal/model"
	"github.com/ralendar/oauth-server/internal/repository"
)

// LinkService establishes the cross-app mapping a foreign principal needs
// before it can act as a local user. Linking is an operator action; the gate
// never creates mappings on its own.
type LinkService interface {
	Link(ctx context.Context, userID uuid.UUID, foreignID int64, foreignUsername string) (*model.UserMapping, error)
}

type LinkServiceImpl struct {
	mappings   repository.MappingRepository
	identities repository.IdentityRepository
	users      repository.UserRepository
	log        *zap.Logger
}

func NewLinkService(mappings repository.MappingRepository, identities repository.IdentityRepository,
	users repository.UserRepository, log *zap.Logger) *LinkServiceImpl {
	return &LinkServiceImpl{mappings: mappings, identities: identities, users: users, log: log}
}

// Link binds a local user to the cooperating application's user id. The
// federation key is taken from the user's qq identity when one exists, so a
// later qq login on the partner side resolves to the same person. Existing
// mappings are never overwritten; a federation key already bound to another
// user is a conflict the operator must merge first.
func (s *LinkServiceImpl) Link(ctx context.Context, userID uuid.UUID, foreignID int64, foreignUsername string) (*model.UserMapping, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("link: %w", err)
	}
	if _, err := s.mappings.GetByUserID(ctx, userID); err == nil {
		return nil, fmt.Errorf("%w: user %s already linked", errs.ErrAlreadyExists, userID)
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	var unionID string
	ident, err := s.identities.GetByUserID(ctx, "qq", userID)
	switch {
	case err == nil:
		unionID = ident.UnionID
	case !errors.Is(err, errs.ErrNotFound):
		return nil, err
	}

	if unionID != "" {
		other, err := s.mappings.GetByUnionID(ctx, unionID)
		switch {
		case err == nil && other.UserID != userID:
			return nil, fmt.Errorf("%w: union id already mapped to user %s",
				errs.ErrFederationConflict, other.UserID)
		case err != nil && !errors.Is(err, errs.ErrNotFound):
			return nil, err
		}
	}

	m := &model.UserMapping{
		UserID:          userID,
		ForeignUserID:   foreignID,
		ForeignUsername: foreignUsername,
		UnionID:         unionID,
		SyncEnabled:     true,
	}
	if err := s.mappings.Create(ctx, m); err != nil {
		return nil, err
	}
	s.log.Info("user linked",
		zap.String("user_id", u.ID.String()),
		zap.Int64("foreign_id", foreignID),
		zap.Bool("union_id_set", unionID != ""))
	return m, nil
}
