package worker

import (
	"github.com/spec-kit/authsync/internal/service"
)

// StartNotificationWorker registers notification handlers and returns a func that
// removes them.
func StartNotificationWorker(notificationService *service.NotificationService) (stop func()) {
	if notificationService == nil {
		return func() {}
	}
	notificationService.RegisterHandlers()
	return notificationService.Close
}
