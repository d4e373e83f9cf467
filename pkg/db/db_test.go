package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wyfcoding/loanportfolio/pkg/config"
	"gorm.io/gorm"
)

func TestTxFromContext(t *testing.T) {
	_, ok := TxFromContext(context.Background())
	assert.False(t, ok)

	_, ok = TxFromContext(ContextWithTx(context.Background(), nil))
	assert.False(t, ok)

	tx := &gorm.DB{}
	got, ok := TxFromContext(ContextWithTx(context.Background(), tx))
	assert.True(t, ok)
	assert.Same(t, tx, got)
}

func TestInit_UnsupportedDriver(t *testing.T) {
	_, err := Init(config.DatabaseConfig{Driver: "oracle"})
	assert.ErrorContains(t, err, "unsupported database driver")
}
