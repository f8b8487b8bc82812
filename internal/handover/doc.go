// Package handover notices new handover control events in a thread and
// refreshes conversation metadata when one appears.
//
// # Detector
//
// Detector runs after every change to a thread's message list. It reports
// the newest Handover message that is less than the recency window old and
// has not been reported yet. The window keeps history loaded from older
// pages from firing the notification again.
//
// # Refresher
//
// Refresher is the consumer of detector notifications. It calls the
// metadata refresh function at most once per interval and never runs two
// refreshes at the same time:
//
//	r := handover.NewRefresher(refresh, 3*time.Second, nil, logger)
//	ctrl := conversation.New(client, conversation.Options{
//	    OnHandoverDetected: func(threadID string) { r.Trigger(threadID) },
//	})
package handover
