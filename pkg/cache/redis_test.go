package cache

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/loanportfolio/pkg/config"
)

func TestNew_Ping(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	rc, err := New(config.RedisConfig{Host: mr.Host(), Port: port, MaxPoolSize: 2, ConnTimeout: 1, ReadTimeout: 1, WriteTimeout: 1})
	require.NoError(t, err)
	defer rc.Close()

	require.NoError(t, rc.GetClient().Set(context.Background(), "k", "v", 0).Err())
	mr.CheckGet(t, "k", "v")
}

func TestNew_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	host := mr.Host()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	mr.Close()

	_, err = New(config.RedisConfig{Host: host, Port: port, ConnTimeout: 1, ReadTimeout: 1, WriteTimeout: 1})
	assert.Error(t, err)
}
