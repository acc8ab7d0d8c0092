package worker

import (
	"github.com/gdsec-test/dcu-middleware/internal/service"
)

// StartSubscribers registers the event subscribers that run beside the pipeline.
func StartSubscribers(notifications *service.NotificationService, recorder *service.ActionRecorder) {
	if notifications != nil {
		notifications.RegisterHandlers()
	}
	if recorder != nil {
		recorder.RegisterHandlers()
	}
}
