package rule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	pkgerrors "kestrel/pkg/errors"
)

type Repository interface {
	CreateRule(ctx context.Context, r *Rule) error
	GetRule(ctx context.Context, id string) (*Rule, error)
	ListRules(ctx context.Context) ([]Rule, error)
	ListEnabledRules(ctx context.Context) ([]Rule, error)
	UpdateRule(ctx context.Context, r *Rule) error
	DeleteRule(ctx context.Context, id string) error

	UpsertSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, ruleID, userID string) (*Subscription, error)
	ListSubscriptions(ctx context.Context, ruleID string) ([]Subscription, error)
	PruneOrphanSubscriptions(ctx context.Context, ruleID string, validUserIDs []string) (int64, error)
}

type MongoRepository struct {
	rules *mongo.Collection
	subs  *mongo.Collection
}

func NewRepository(db *mongo.Database) Repository {
	return &MongoRepository{
		rules: db.Collection("rules"),
		subs:  db.Collection("rule_subscriptions"),
	}
}

func (r *MongoRepository) CreateRule(ctx context.Context, rule *Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if _, err := r.rules.InsertOne(ctx, rule); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return pkgerrors.ErrConflict.WithCause(err).
				WithDetail("message", fmt.Sprintf("rule %s already exists", rule.ID))
		}
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

func (r *MongoRepository) GetRule(ctx context.Context, id string) (*Rule, error) {
	var rule Rule
	err := r.rules.FindOne(ctx, bson.M{"_id": id}).Decode(&rule)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("rule %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return &rule, nil
}

func (r *MongoRepository) ListRules(ctx context.Context) ([]Rule, error) {
	return r.findRules(ctx, bson.M{})
}

func (r *MongoRepository) ListEnabledRules(ctx context.Context) ([]Rule, error) {
	return r.findRules(ctx, bson.M{"enabled": true})
}

func (r *MongoRepository) findRules(ctx context.Context, filter bson.M) ([]Rule, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := r.rules.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find rules: %w", err)
	}
	defer cursor.Close(ctx)

	var rules []Rule
	if err := cursor.All(ctx, &rules); err != nil {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}
	return rules, nil
}

// UpdateRule replaces the rule document and prunes subscriptions for users
// no longer targeted by any notify action.
func (r *MongoRepository) UpdateRule(ctx context.Context, rule *Rule) error {
	rule.UpdatedAt = time.Now()

	result, err := r.rules.ReplaceOne(ctx, bson.M{"_id": rule.ID}, rule)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if result.MatchedCount == 0 {
		return pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("rule %s not found", rule.ID))
	}

	if _, err := r.PruneOrphanSubscriptions(ctx, rule.ID, rule.NotifyUserIDs()); err != nil {
		return err
	}
	return nil
}

// DeleteRule removes the rule and cascades to its subscriptions. Triggers
// and actions are embedded in the rule document, so they go with it.
func (r *MongoRepository) DeleteRule(ctx context.Context, id string) error {
	result, err := r.rules.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if result.DeletedCount == 0 {
		return pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("rule %s not found", id))
	}

	if _, err := r.subs.DeleteMany(ctx, bson.M{"rule_id": id}); err != nil {
		return fmt.Errorf("failed to delete rule subscriptions: %w", err)
	}
	return nil
}

func (r *MongoRepository) UpsertSubscription(ctx context.Context, sub *Subscription) error {
	now := time.Now()
	sub.UpdatedAt = now

	filter := bson.M{"rule_id": sub.RuleID, "user_id": sub.UserID}
	update := bson.M{
		"$set": bson.M{
			"by_message": sub.ByMessage,
			"by_email":   sub.ByEmail,
			"updated_at": sub.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"rule_id":    sub.RuleID,
			"user_id":    sub.UserID,
			"created_at": now,
		},
	}

	if _, err := r.subs.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

func (r *MongoRepository) GetSubscription(ctx context.Context, ruleID, userID string) (*Subscription, error) {
	var sub Subscription
	err := r.subs.FindOne(ctx, bson.M{"rule_id": ruleID, "user_id": userID}).Decode(&sub)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, pkgerrors.ErrNotFound.
			WithDetail("message", fmt.Sprintf("no subscription for rule %s user %s", ruleID, userID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

func (r *MongoRepository) ListSubscriptions(ctx context.Context, ruleID string) ([]Subscription, error) {
	cursor, err := r.subs.Find(ctx, bson.M{"rule_id": ruleID})
	if err != nil {
		return nil, fmt.Errorf("failed to find subscriptions: %w", err)
	}
	defer cursor.Close(ctx)

	var subs []Subscription
	if err := cursor.All(ctx, &subs); err != nil {
		return nil, fmt.Errorf("failed to decode subscriptions: %w", err)
	}
	return subs, nil
}

func (r *MongoRepository) PruneOrphanSubscriptions(ctx context.Context, ruleID string, validUserIDs []string) (int64, error) {
	filter := bson.M{
		"rule_id": ruleID,
		"user_id": bson.M{"$nin": validUserIDs},
	}
	result, err := r.subs.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to prune subscriptions: %w", err)
	}
	return result.DeletedCount, nil
}

// EnsureIndexes creates the collection indexes used by the engine.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection("rules").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "enabled", Value: 1}},
			Options: options.Index().SetName("idx_rules_enabled"),
		},
		{
			Keys:    bson.D{{Key: "group_id", Value: 1}},
			Options: options.Index().SetName("idx_rules_group"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create rule indexes: %w", err)
	}

	_, err = db.Collection("rule_subscriptions").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "rule_id", Value: 1}, {Key: "user_id", Value: 1}},
			Options: options.Index().SetName("idx_subscriptions_rule_user").SetUnique(true),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create subscription indexes: %w", err)
	}
	return nil
}
