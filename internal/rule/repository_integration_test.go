//go:build integration

package rule

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	pkgerrors "kestrel/pkg/errors"
)

func setupMongoRepo(t *testing.T) Repository {
	t.Helper()
	ctx := context.Background()

	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}

	container, err := mongodb.Run(ctx, "mongo:6",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Waiting for connections").WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		container.Terminate(ctx)
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Disconnect(ctx)
	})

	db := client.Database("kestrel_test")
	require.NoError(t, EnsureIndexes(ctx, db))
	return NewRepository(db)
}

func TestMongoRepository_RuleLifecycle(t *testing.T) {
	repo := setupMongoRepo(t)
	ctx := context.Background()

	r := validRule()
	require.NoError(t, repo.CreateRule(ctx, r))
	require.NotEmpty(t, r.ID)

	fetched, err := repo.GetRule(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Name, fetched.Name)
	assert.Len(t, fetched.Triggers, 1)

	fetched.Enabled = true
	fetched.Name = "renamed"
	require.NoError(t, repo.UpdateRule(ctx, fetched))

	enabled, err := repo.ListEnabledRules(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "renamed", enabled[0].Name)

	require.NoError(t, repo.DeleteRule(ctx, r.ID))
	_, err = repo.GetRule(ctx, r.ID)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestMongoRepository_SubscriptionPruning(t *testing.T) {
	repo := setupMongoRepo(t)
	ctx := context.Background()

	r := validRule()
	r.Actions[0].Notify.UserIDs = []string{"u1", "u2"}
	require.NoError(t, repo.CreateRule(ctx, r))

	for _, userID := range []string{"u1", "u2"} {
		require.NoError(t, repo.UpsertSubscription(ctx, &Subscription{
			RuleID:    r.ID,
			UserID:    userID,
			ByMessage: true,
		}))
	}

	// Removing u2 from the notify action prunes its subscription on edit.
	r.Actions[0].Notify.UserIDs = []string{"u1"}
	require.NoError(t, repo.UpdateRule(ctx, r))

	subs, err := repo.ListSubscriptions(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "u1", subs[0].UserID)

	_, err = repo.GetSubscription(ctx, r.ID, "u2")
	assert.True(t, pkgerrors.IsNotFound(err))
}
