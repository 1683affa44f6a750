package publish

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
)

// PostID identifies a post on the target platform.
type PostID string

// Publisher submits validated post text to a social platform.
type Publisher interface {
	// Platform returns a short name for the target platform, used in logs.
	Platform() string
	Publish(ctx context.Context, text string) (PostID, error)
}

// ErrPublish marks every failure returned by a Publisher.
var ErrPublish = eris.New("publishing post failed")

// Error describes a rejection by the platform. Status is zero for transport failures.
type Error struct {
	Status int
	Detail string
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return "publish rejected: " + e.Detail
	}
	return fmt.Sprintf("publish rejected with status %d: %s", e.Status, e.Detail)
}

// Is lets callers match any publish failure against ErrPublish.
func (e *Error) Is(target error) bool {
	return target == ErrPublish
}
