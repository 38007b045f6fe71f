package authorization_test

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agrisubsidy/internal/authorization"
	"github.com/smallbiznis/agrisubsidy/internal/testkit"
	"gorm.io/gorm"
)

type testkitEnv struct {
	t    *testing.T
	db   *gorm.DB
	node *snowflake.Node
}

func (e *testkitEnv) principal(role authorization.Role) snowflake.ID {
	return testkit.Principal(e.t, e.db, e.node, role)
}
