package apitest

import (
	"context"

	"github.com/stretchr/testify/suite"
	"github.com/uptrace/bun"

	"github.com/nexus-fundraising/nexus/domain/crm"
	"github.com/nexus-fundraising/nexus/internal/testutil"
)

// BaseSuite gives each test a fresh transaction, a server built on it and
// its own organization id. Tests are skipped without TEST_DATABASE_URL.
//
// Usage:
//
//	type SyncSuite struct {
//	    apitest.BaseSuite
//	}
//
//	func (s *SyncSuite) SetupSuite() {
//	    s.Registry = crm.NewRegistry()
//	    s.Registry.Register(records.SourceBloomerang, newFake)
//	}
type BaseSuite struct {
	suite.Suite
	Ctx      context.Context
	Registry *crm.Registry
	TestDB   *testutil.TestDB
	Server   *TestServer
	OrgID    string
}

// SetupTest opens the transaction and builds the server.
// If you override this, call s.BaseSuite.SetupTest() first.
func (s *BaseSuite) SetupTest() {
	s.Ctx = context.Background()
	if s.Registry == nil {
		s.Registry = crm.NewRegistry()
	}

	s.TestDB = testutil.SetupTestDB(s.T())
	s.Server = NewTestServer(s.T(), s.TestDB, s.Registry)
	s.OrgID = testutil.NewOrgID()
}

// DB returns the per-test transaction.
func (s *BaseSuite) DB() bun.IDB {
	return s.TestDB.GetDB()
}
