package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

func TestAuditListQuery(t *testing.T) {
	since := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)

	tests := []struct {
		name     string
		opts     domain.ListOpts
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "defaults",
			opts:     domain.ListOpts{},
			wantSQL:  "SELECT id, event, detail, created_at FROM audit_log ORDER BY created_at DESC, id DESC LIMIT $1",
			wantArgs: []any{maxAuditPage},
		},
		{
			name:     "event filter",
			opts:     domain.ListOpts{Event: "allowance.approve", Limit: 20},
			wantSQL:  "SELECT id, event, detail, created_at FROM audit_log WHERE event = $1 ORDER BY created_at DESC, id DESC LIMIT $2",
			wantArgs: []any{"allowance.approve", 20},
		},
		{
			name: "all filters",
			opts: domain.ListOpts{Event: "archive.executions", Since: &since, Until: &until, Limit: 10_000, Offset: 50},
			wantSQL: "SELECT id, event, detail, created_at FROM audit_log" +
				" WHERE event = $1 AND created_at >= $2 AND created_at <= $3" +
				" ORDER BY created_at DESC, id DESC LIMIT $4 OFFSET $5",
			wantArgs: []any{"archive.executions", since, until, maxAuditPage, 50},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := auditListQuery(tt.opts)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}
