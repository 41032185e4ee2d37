package tasks

import "context"

// TaskSchedulerInterface is the coordinator surface used by main and the
// HTTP handlers.
//
//	scheduler := NewScheduler(pipeline, articles, engine, store, Config{Workers: pool.Size()})
//	scheduler.Start()
//	defer scheduler.Stop()
//	ack, err := scheduler.TriggerSource(ctx, id)
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
	TriggerSource(ctx context.Context, sourceID string) (*Ack, error)
	TriggerAll(ctx context.Context) (*Ack, error)
	SourceState(sourceID string) SourceState
}
