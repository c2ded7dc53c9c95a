package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/DJDavid98/DoubleColonBot/cmd/internal/credential"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/helix"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/oauth"
)

var errNoUser = errors.New("token owner not returned")

// userLookup is the part of helix.Client used to resolve users.
type userLookup interface {
	Users(ctx context.Context, cred credential.Credential, params helix.UsersParams, opts ...helix.CallOption) ([]helix.User, error)
}

// helixIdentifier resolves the owner of a fresh access token with an
// unparameterized user lookup. The token is brand new, so a 401 is not
// retried through the refresher.
type helixIdentifier struct {
	users userLookup
}

func (h helixIdentifier) Identify(ctx context.Context, accessToken string) (oauth.Identity, error) {
	users, err := h.users.Users(ctx, credential.Credential{AccessToken: accessToken}, helix.UsersParams{}, helix.WithoutRefresh())
	if err != nil {
		return oauth.Identity{}, fmt.Errorf("identify token owner: %w", err)
	}
	if len(users) == 0 || users[0].ID == "" {
		return oauth.Identity{}, errNoUser
	}
	u := users[0]
	return oauth.Identity{UserID: u.ID, Login: u.Login, DisplayName: u.DisplayName}, nil
}
