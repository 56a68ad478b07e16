// Package encryption - vault credential processing engine
package encryption

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/TemirkhanN/intrakill/models"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/bcrypt"
)

// VerifiedTokenCacheSize the number of verified transfer tokens remembered
const VerifiedTokenCacheSize = 16

// ErrIncorrectPassword the credential does not match the vault password
var ErrIncorrectPassword = errors.New("incorrect password")

/*
CredentialEngine the system's credential engine. It is solely responsible for deriving
and checking the tokens which prove knowledge of a vault password.

Page encryption of the vault DB itself happens inside the DB driver, keyed by the
password directly.
*/
type CredentialEngine interface {
	/*
		TransferToken derive a transfer token from a vault password. Every call produces a
		different token, as each is salted.

			@param ctx context.Context - execution context
			@param password string - the vault password
			@returns the token
	*/
	TransferToken(ctx context.Context, password string) (string, error)

	/*
		VerifyTransferToken check a transfer token against a vault password

			@param ctx context.Context - execution context
			@param password string - the vault password
			@param token string - the token presented by a peer
			@returns ErrIncorrectPassword when the token does not match
	*/
	VerifyTransferToken(ctx context.Context, password string, token string) error

	/*
		CheckPassword validate a vault password before it is used

			@param password string - the password
	*/
	CheckPassword(password string) error
}

// credentialEngine implements CredentialEngine
type credentialEngine struct {
	goutils.Component

	cost int

	// verifiedTokens token to SHA-256 of the password it was verified against
	verifiedTokens *lru.Cache[string, [sha256.Size]byte]
}

// CredentialEngineParams credential engine init parameters
type CredentialEngineParams struct {
	// BcryptCost the bcrypt cost factor. Zero selects bcrypt.DefaultCost.
	BcryptCost int `validate:"omitempty,min=4,max=31"`
}

/*
NewCredentialEngine define new credential engine

	@param ctx context.Context - execution context
	@param params CredentialEngineParams - engine parameters
	@returns engine instance
*/
func NewCredentialEngine(
	_ context.Context, params CredentialEngineParams,
) (CredentialEngine, error) {
	if err := validator.New().Struct(&params); err != nil {
		return nil, fmt.Errorf("invalid engine init parameters [%w]", err)
	}

	cost := params.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	verified, err := lru.New[string, [sha256.Size]byte](VerifiedTokenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to define verified token cache [%w]", err)
	}

	logTags := log.Fields{"package": "intrakill", "module": "encryption", "component": "credentials"}

	return &credentialEngine{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		cost:           cost,
		verifiedTokens: verified,
	}, nil
}

func (e *credentialEngine) CheckPassword(password string) error {
	return models.CheckPassword(password)
}
