//go:build integration

package redisstore

import (
	"testing"

	"conduit/internal/testinfra"
	"conduit/pkg/saga/sagatest"
)

func TestStore_Integration(t *testing.T) {
	store := New(testinfra.Redis(t))
	sagatest.RunStoreTests(t, store)
	sagatest.RunRepositoryTests(t, store)
}
