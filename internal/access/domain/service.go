package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Resolver interface {
	// Resolve computes the organization's access at now. A zero now means the current time.
	Resolve(ctx context.Context, orgID snowflake.ID, now time.Time) (Resolution, error)
}
