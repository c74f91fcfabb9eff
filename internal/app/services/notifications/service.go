// Package notifications persists user notifications and attempts push
// delivery.
package notifications

import (
	"context"
	"errors"

	"github.com/saficlean/marketplace/internal/app/domain/notification"
	"github.com/saficlean/marketplace/internal/app/storage"
	apperr "github.com/saficlean/marketplace/internal/errors"
	"github.com/saficlean/marketplace/pkg/logger"
)

// Pusher delivers to a device token. FCMClient satisfies it.
type Pusher interface {
	Push(ctx context.Context, token, title, body string, data map[string]string) error
}

// Service stores notifications and forwards them to the user's device. Push
// failures never fail the caller; the stored record is the source of truth.
type Service struct {
	store  storage.NotificationStore
	users  storage.UserStore
	pusher Pusher
	log    *logger.Logger
}

// New creates the notifications service. pusher may be nil.
func New(store storage.NotificationStore, users storage.UserStore, pusher Pusher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("notifications")
	}
	return &Service{store: store, users: users, pusher: pusher, log: log}
}

// Notify records a notification and pushes it if the user has a device token.
func (s *Service) Notify(ctx context.Context, userID, title, body string, data map[string]string) error {
	n, err := s.store.CreateNotification(ctx, notification.Notification{
		UserID: userID,
		Title:  title,
		Body:   body,
		Data:   data,
	})
	if err != nil {
		return apperr.Internal("store notification", err)
	}

	if s.pusher == nil {
		return nil
	}
	u, err := s.users.GetUser(ctx, userID)
	if err != nil || u.FCMToken == "" {
		return nil
	}
	if err := s.pusher.Push(ctx, u.FCMToken, title, body, data); err != nil {
		s.log.WithError(err).WithField("notification_id", n.ID).Warn("push delivery failed")
	}
	return nil
}

// List returns the user's notifications, optionally unread only.
func (s *Service) List(ctx context.Context, userID string, unreadOnly bool) ([]notification.Notification, error) {
	list, err := s.store.ListNotifications(ctx, userID, unreadOnly)
	if err != nil {
		return nil, apperr.Internal("list notifications", err)
	}
	return list, nil
}

// MarkRead marks one of the user's notifications as read.
func (s *Service) MarkRead(ctx context.Context, id, userID string) error {
	err := s.store.MarkNotificationRead(ctx, id, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("notification")
	}
	if err != nil {
		return apperr.Internal("mark notification read", err)
	}
	return nil
}
