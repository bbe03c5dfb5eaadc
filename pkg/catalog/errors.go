package catalog

import "errors"

var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrVersionNotFound  = errors.New("workflow version not found")
	ErrDuplicateKey     = errors.New("workflow key already registered")
	ErrInvalidGraph     = errors.New("invalid workflow graph")
)

func IsWorkflowNotFound(err error) bool { return errors.Is(err, ErrWorkflowNotFound) }

func IsVersionNotFound(err error) bool { return errors.Is(err, ErrVersionNotFound) }

func IsDuplicateKey(err error) bool { return errors.Is(err, ErrDuplicateKey) }

func IsInvalidGraph(err error) bool { return errors.Is(err, ErrInvalidGraph) }
