package bus

import (
	"time"

	"github.com/google/uuid"

	"github.com/next-trace/scg-edu-bus/contract/result"
)

// Command represents one intended state change. A command has a single handler and
// carries its own result envelope, which the handler mutates in place.
type Command interface {
	AggregateRoot() uuid.UUID
	Timestamp() time.Time
	Result() *result.CommandResult
}

// Validatable is implemented by commands that carry their own rule set.
type Validatable interface {
	Validate() result.ValidationResult
}

// BaseCommand is embedded by concrete commands. Construct with NewBaseCommand so the
// result envelope exists before the command is shared.
type BaseCommand struct {
	aggregateRoot uuid.UUID
	timestamp     time.Time
	result        *result.CommandResult
}

// NewBaseCommand stamps a command targeting aggregateRoot.
func NewBaseCommand(aggregateRoot uuid.UUID) BaseCommand {
	return BaseCommand{
		aggregateRoot: aggregateRoot,
		timestamp:     time.Now().UTC(),
		result:        result.NewCommandResult(),
	}
}

func (c *BaseCommand) AggregateRoot() uuid.UUID { return c.aggregateRoot }

func (c *BaseCommand) Timestamp() time.Time { return c.timestamp }

// Result returns the envelope created at construction. A zero BaseCommand lazily gets one.
func (c *BaseCommand) Result() *result.CommandResult {
	if c.result == nil {
		c.result = result.NewCommandResult()
	}

	return c.result
}
