package encryption

import (
	"context"
	"testing"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"
)

func TestVerifiedTokenCacheBounded(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	engine, err := NewCredentialEngine(utCtx, CredentialEngineParams{BcryptCost: bcrypt.MinCost})
	assert.Nil(err)
	uut := engine.(*credentialEngine)

	tokens := []string{}
	for itr := 0; itr < VerifiedTokenCacheSize*2; itr++ {
		token, err := uut.TransferToken(utCtx, "correct-horse")
		assert.Nil(err)
		assert.Nil(uut.VerifyTransferToken(utCtx, "correct-horse", token))
		tokens = append(tokens, token)
	}
	assert.Equal(VerifiedTokenCacheSize, uut.verifiedTokens.Len())

	// The password itself is never kept
	for _, token := range uut.verifiedTokens.Keys() {
		known, ok := uut.verifiedTokens.Peek(token)
		assert.True(ok)
		assert.NotContains(string(known[:]), "correct-horse")
	}

	// Evicted tokens still verify through bcrypt
	assert.False(uut.verifiedTokens.Contains(tokens[0]))
	assert.Nil(uut.VerifyTransferToken(utCtx, "correct-horse", tokens[0]))
	assert.NotNil(uut.VerifyTransferToken(utCtx, "wrong-horse", tokens[0]))
}
