package notify

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"kestrel/internal/config"
	"kestrel/internal/device"
	"kestrel/internal/evaluate"
	"kestrel/internal/logger"
	"kestrel/internal/rule"
	pkgerrors "kestrel/pkg/errors"
	"kestrel/pkg/metrics"
)

// User is the delivery-relevant slice of a platform user account.
type User struct {
	ID                 string `json:"id"`
	Active             bool   `json:"active"`
	Language           string `json:"language"`
	Email              string `json:"email"`
	MessagingConnected bool   `json:"messaging_connected"`
}

// UserDirectory resolves user accounts at delivery time.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (User, error)
}

// Attachment is a fetched snapshot image ready for delivery.
type Attachment struct {
	Filename string
	Data     []byte
}

// Pusher delivers an in-app message to one user.
type Pusher interface {
	Push(ctx context.Context, userID, message string, attachments []Attachment) error
}

// Mailer delivers an email to one address.
type Mailer interface {
	Send(ctx context.Context, email, subject, body string, attachments []Attachment) error
}

// Notifier fans a firing out to the subscribed users. Channels for one
// user are independent: an email failure never blocks the message push,
// and one user's failure never blocks another's delivery.
type Notifier struct {
	users     UserDirectory
	pusher    Pusher
	mailer    Mailer
	snapshots device.SnapshotFetcher
	subs      rule.Repository
	limiter   *rate.Limiter
	defLang   string
	logger    logger.Logger
}

func NewNotifier(users UserDirectory, pusher Pusher, mailer Mailer, snapshots device.SnapshotFetcher, subs rule.Repository, cfg config.NotifyConfig, log logger.Logger) *Notifier {
	defLang := cfg.DefaultLanguage
	if defLang == "" {
		defLang = evaluate.DefaultLanguage
	}
	return &Notifier{
		users:     users,
		pusher:    pusher,
		mailer:    mailer,
		snapshots: snapshots,
		subs:      subs,
		limiter:   rate.NewLimiter(rate.Limit(cfg.SendRPS), cfg.SendBurst),
		defLang:   defLang,
		logger:    log,
	}
}

// Dispatch delivers one notify action for a fired rule. Per-user errors
// are logged and counted, never returned; the firing already happened.
func (n *Notifier) Dispatch(ctx context.Context, now time.Time, r *rule.Rule, action *rule.NotifyAction, outcome *evaluate.Outcome) {
	var attachments []Attachment
	if action.AttachSnapshot {
		attachments = n.fetchAttachments(ctx, outcome.Attachments)
	}

	for _, userID := range action.UserIDs {
		n.deliverToUser(ctx, now, r, action, outcome, userID, attachments)
	}
}

func (n *Notifier) deliverToUser(ctx context.Context, now time.Time, r *rule.Rule, action *rule.NotifyAction, outcome *evaluate.Outcome, userID string, attachments []Attachment) {
	user, err := n.users.GetUser(ctx, userID)
	if err != nil {
		n.logger.ErrorwCtx(ctx, "Failed to resolve notification recipient",
			"error", err,
			"user_id", userID,
		)
		metrics.NotificationSendsTotal.WithLabelValues("message", "error").Inc()
		return
	}
	if !user.Active {
		n.logger.DebugwCtx(ctx, "Skipping inactive recipient", "user_id", userID)
		return
	}

	byMessage, byEmail := n.channelPrefs(ctx, r.ID, user)
	if !byMessage && !byEmail {
		return
	}

	lang := user.Language
	if _, ok := outcome.Expressions[lang]; !ok {
		lang = n.defLang
	}
	body := Render(action.Template, now, outcome.Expressions[lang], outcome.CurrentValues[lang])

	if byMessage && user.MessagingConnected {
		n.send(ctx, "message", userID, func() error {
			return n.pusher.Push(ctx, userID, body, attachments)
		})
	}
	if byEmail && user.Email != "" {
		n.send(ctx, "email", userID, func() error {
			return n.mailer.Send(ctx, user.Email, r.Name, body, attachments)
		})
	}
}

// channelPrefs reads the stored per-rule subscription; when none exists
// the user's current channel-connection state decides.
func (n *Notifier) channelPrefs(ctx context.Context, ruleID string, user User) (bool, bool) {
	sub, err := n.subs.GetSubscription(ctx, ruleID, user.ID)
	if err != nil {
		if !pkgerrors.IsNotFound(err) {
			n.logger.WarnwCtx(ctx, "Failed to load notification subscription",
				"error", err,
				"rule_id", ruleID,
				"user_id", user.ID,
			)
		}
		return user.MessagingConnected, user.Email != ""
	}
	return sub.ByMessage, sub.ByEmail
}

func (n *Notifier) send(ctx context.Context, channel, userID string, deliver func() error) {
	if err := n.limiter.Wait(ctx); err != nil {
		metrics.NotificationSendsTotal.WithLabelValues(channel, "error").Inc()
		return
	}

	if err := deliver(); err != nil {
		n.logger.ErrorwCtx(ctx, "Failed to deliver notification",
			"error", err,
			"channel", channel,
			"user_id", userID,
		)
		metrics.NotificationSendsTotal.WithLabelValues(channel, "error").Inc()
		return
	}
	metrics.NotificationSendsTotal.WithLabelValues(channel, "sent").Inc()
}

func (n *Notifier) fetchAttachments(ctx context.Context, refs []device.ImageRef) []Attachment {
	var attachments []Attachment
	for i, ref := range refs {
		data, err := n.snapshots.FetchSnapshot(ctx, ref)
		if err != nil {
			n.logger.WarnwCtx(ctx, "Failed to fetch snapshot attachment",
				"error", err,
				"url", ref.URL,
			)
			continue
		}
		attachments = append(attachments, Attachment{
			Filename: fmt.Sprintf("snapshot-%d.jpg", i+1),
			Data:     data,
		})
	}
	return attachments
}
