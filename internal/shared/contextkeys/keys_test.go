package contextkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeysDoNotCollideWithStrings(t *testing.T) {
	ctx := context.WithValue(context.Background(), CaseIDKey, "case-1")

	// A plain string key must not read the typed key's value.
	assert.Nil(t, ctx.Value("caseID"))
	assert.Equal(t, "case-1", ctx.Value(CaseIDKey))
}

func TestKeyStringer(t *testing.T) {
	assert.Contains(t, CaseIDKey.String(), "caseID")
}
