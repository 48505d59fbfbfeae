package api

import (
	"context"

	"github.com/ssargent/userdots/pkg/codec"
	"github.com/ssargent/userdots/pkg/query"
	"github.com/ssargent/userdots/pkg/store"
)

// Searcher resolves selector batches; *query.Engine implements it
type Searcher interface {
	Find(ctx context.Context, groups [][]query.Selector, settings query.Settings) ([][]*codec.UserRecord, error)
	Plan(groups [][]query.Selector, settings query.Settings) (*query.Plan, error)
	Backend() store.Backend
}

var _ Searcher = (*query.Engine)(nil)
