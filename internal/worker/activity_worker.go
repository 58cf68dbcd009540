package worker

import (
	"context"

	"github.com/spec-kit/channel-service/internal/activity"
	"github.com/spec-kit/channel-service/internal/service"
)

// StartActivityWorker registers activity handlers and drains the dispatcher
// until ctx is done.
func StartActivityWorker(ctx context.Context, dispatcher *activity.Dispatcher, activityService *service.ActivityService) {
	if dispatcher == nil || activityService == nil {
		return
	}
	activityService.RegisterHandlers()
	go dispatcher.Run(ctx)
}
