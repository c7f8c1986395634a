package deadletter

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-pubsub/internal/messaging"
)

const defaultWriteTimeout = 5 * time.Second

// Logger interface for optional logging support.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Recorder writes publisher failures to a Repository.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Recorder struct {
	repo     Repository
	clientID string
	logger   Logger
	timeout  time.Duration

	// onRecord is called after each stored letter, if set.
	onRecord func(*Letter)
}

// NewRecorder creates a recorder tagging letters with clientID.
// logger may be nil.
func NewRecorder(repo Repository, clientID string, logger Logger) *Recorder {
	return &Recorder{
		repo:     repo,
		clientID: clientID,
		logger:   logger,
		timeout:  defaultWriteTimeout,
	}
}

// OnRecord registers a hook run after each letter is stored. It must be
// set before the recorder is in use.
func (r *Recorder) OnRecord(fn func(*Letter)) {
	r.onRecord = fn
}

// FailureListener returns a messaging.PublishFailureListener that stores
// every reported failure.
func (r *Recorder) FailureListener() messaging.PublishFailureListener {
	return func(f messaging.PublishFailure) {
		r.store(FromFailure(r.clientID, f))
	}
}

// RecordTermination stores the messages dropped by Publisher.Terminate.
//
// Returns:
//   - int: Number of letters stored (0 unless err is an
//     *messaging.IncompleteMessageDeliveryError)
func (r *Recorder) RecordTermination(err error) int {
	stored := 0
	for _, l := range FromTermination(r.clientID, err) {
		if r.store(l) {
			stored++
		}
	}
	if stored > 0 && r.logger != nil {
		r.logger.Warn("undelivered messages journalled", "count", stored)
	}
	return stored
}

func (r *Recorder) store(l *Letter) bool {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.repo.Create(ctx, l); err != nil {
		if r.logger != nil {
			r.logger.Error("failed to journal undelivered message",
				"destination", l.Destination,
				"reason", l.Reason,
				"error", err,
			)
		}
		return false
	}
	if r.onRecord != nil {
		r.onRecord(l)
	}
	return true
}
