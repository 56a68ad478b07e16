package encryption

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"github.com/apex/log"
	"golang.org/x/crypto/bcrypt"
)

/*
TransferToken derive a transfer token from a vault password. Every call produces a
different token, as each is salted.

	@param ctx context.Context - execution context
	@param password string - the vault password
	@returns the token
*/
func (e *credentialEngine) TransferToken(ctx context.Context, password string) (string, error) {
	if err := e.CheckPassword(password); err != nil {
		return "", err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), e.cost)
	if err != nil {
		return "", fmt.Errorf("failed to derive transfer token [%w]", err)
	}
	log.WithFields(e.GetLogTagsForContext(ctx)).WithField("cost", e.cost).Debug("Derived transfer token")
	return string(hashed), nil
}

/*
VerifyTransferToken check a transfer token against a vault password

	@param ctx context.Context - execution context
	@param password string - the vault password
	@param token string - the token presented by a peer
	@returns ErrIncorrectPassword when the token does not match
*/
func (e *credentialEngine) VerifyTransferToken(
	ctx context.Context, password string, token string,
) error {
	logTags := e.GetLogTagsForContext(ctx)

	if token == "" {
		return fmt.Errorf("no transfer token presented [%w]", ErrIncorrectPassword)
	}

	// A token already proven against this password skips the bcrypt work
	if e.cachedTokenMatches(password, token) {
		return nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(token), []byte(password)); err != nil {
		log.WithError(err).WithFields(logTags).Debug("Transfer token rejected")
		return fmt.Errorf("transfer token mismatch [%w]", ErrIncorrectPassword)
	}

	e.verifiedTokens.Add(token, sha256.Sum256([]byte(password)))
	return nil
}

// cachedTokenMatches whether a token was already verified against this password
func (e *credentialEngine) cachedTokenMatches(password string, token string) bool {
	known, ok := e.verifiedTokens.Get(token)
	if !ok {
		return false
	}
	digest := sha256.Sum256([]byte(password))
	return subtle.ConstantTimeCompare(known[:], digest[:]) == 1
}
