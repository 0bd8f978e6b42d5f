package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTypedErrors_UnwrapToSentinels(t *testing.T) {
	assert.ErrorIs(t, NewValidation("name", "is required"), ErrValidation)
	assert.ErrorIs(t, NewNotFound("node", "n1"), ErrNotFound)
	assert.ErrorIs(t, NewDuplicateID("node", "n1"), ErrDuplicateID)
	assert.ErrorIs(t, &CyclicDependencyError{Path: []string{"a", "b", "a"}}, ErrCyclicDependency)
	assert.ErrorIs(t, &TimeoutError{Op: "task"}, ErrTimeout)
}

func TestTypedErrors_Messages(t *testing.T) {
	assert.Equal(t, `node "n1" not found`, NewNotFound("node", "n1").Error())
	assert.Equal(t, `relationship "r1" already exists`, NewDuplicateID("relationship", "r1").Error())
	assert.Equal(t, "validation failed: name: is required", NewValidation("name", "is required").Error())
	assert.Equal(t, "validation failed: bad payload", NewValidation("", "bad payload").Error())
	assert.Equal(t, "cyclic dependency: a -> b -> a", (&CyclicDependencyError{Path: []string{"a", "b", "a"}}).Error())
	assert.Equal(t, "task timed out after 2s", (&TimeoutError{Op: "task", After: 2 * time.Second}).Error())
}

func TestErrorsAs_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("intent create_feature: %w", NewNotFound("node", "dep-1"))

	var nf *NotFoundError
	assert.True(t, errors.As(err, &nf))
	assert.Equal(t, "dep-1", nf.ID)
	assert.Equal(t, "node", nf.Resource)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrTimeout))
	assert.True(t, IsRetryable(fmt.Errorf("sqlite: %w", ErrUnavailable)))
	assert.True(t, IsRetryable(&TimeoutError{Op: "save"}))

	assert.False(t, IsRetryable(ErrNotFound))
	assert.False(t, IsRetryable(NewValidation("x", "y")))
	assert.False(t, IsRetryable(errors.New("boom")))
}

func TestKind(t *testing.T) {
	assert.Equal(t, "none", Kind(nil))
	assert.Equal(t, "validation", Kind(NewValidation("a", "b")))
	assert.Equal(t, "not_found", Kind(NewNotFound("task", "t")))
	assert.Equal(t, "duplicate_id", Kind(NewDuplicateID("node", "n")))
	assert.Equal(t, "cyclic_dependency", Kind(&CyclicDependencyError{}))
	assert.Equal(t, "timeout", Kind(&TimeoutError{}))
	assert.Equal(t, "checksum_mismatch", Kind(ErrChecksumMismatch))
	assert.Equal(t, "internal", Kind(errors.New("boom")))
}
