package streams

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"cryptostream/models"
)

// NotFoundError is returned by Select for a venue without a live queue.
type NotFoundError struct {
	Exchange models.ExchangeID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no stream for exchange %s", e.Exchange)
}

// GroupError is one subscription group that failed to start.
type GroupError struct {
	Index    int
	Exchange models.ExchangeID
	GroupID  uuid.UUID
	Err      error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("group %d (%s %s): %v", e.Index, e.Exchange, e.GroupID, e.Err)
}

func (e *GroupError) Unwrap() error { return e.Err }

// InitError aggregates every failed group. Groups not listed are running.
type InitError struct {
	Groups   int
	Failures []*GroupError
}

func (e *InitError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%d of %d subscription groups failed: %s", len(e.Failures), e.Groups, strings.Join(msgs, "; "))
}

func (e *InitError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}
