package kvstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"enrollgate/internal/platform/sqlite"
	"enrollgate/pkg/platform/sentinel"
)

// =============================================================================
// Store conformance suite, run against every local implementation.
// =============================================================================

type StoreSuite struct {
	suite.Suite
	newStore func(t *testing.T) Store
	store    Store
	ctx      context.Context
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func(*testing.T) Store { return NewMemory() }})
}

func TestFileStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func(t *testing.T) Store {
		s, err := NewFile(t.TempDir())
		if err != nil {
			t.Fatalf("open file store: %v", err)
		}
		return s
	}})
}

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func(t *testing.T) Store {
		db, err := sqlite.Open(filepath.Join(t.TempDir(), "state.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		s, err := NewSQLite(context.Background(), db)
		if err != nil {
			t.Fatalf("init sqlite store: %v", err)
		}
		return s
	}})
}

func TestSealedStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func(t *testing.T) Store {
		s, err := NewSealed(NewMemory(), "device-secret-for-tests")
		if err != nil {
			t.Fatalf("open sealed store: %v", err)
		}
		return s
	}})
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore(s.T())
}

func (s *StoreSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func (s *StoreSuite) TestGetMissing() {
	_, err := s.store.Get(s.ctx, "queue:item:missing")
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *StoreSuite) TestPutReplacesWholeRecord() {
	s.Require().NoError(s.store.Put(s.ctx, "health:last", []byte(`{"state":"offline","message":"down"}`)))
	s.Require().NoError(s.store.Put(s.ctx, "health:last", []byte(`{"state":"online"}`)))

	raw, err := s.store.Get(s.ctx, "health:last")
	s.Require().NoError(err)
	s.JSONEq(`{"state":"online"}`, string(raw))
}

func (s *StoreSuite) TestDelete() {
	s.Run("removes existing key", func() {
		s.Require().NoError(s.store.Put(s.ctx, "queue:item:a", []byte("a")))
		s.Require().NoError(s.store.Delete(s.ctx, "queue:item:a"))
		_, err := s.store.Get(s.ctx, "queue:item:a")
		s.True(errors.Is(err, sentinel.ErrNotFound))
	})

	s.Run("missing key is not an error", func() {
		s.NoError(s.store.Delete(s.ctx, "queue:item:never"))
	})
}

func (s *StoreSuite) TestListByPrefix() {
	for _, key := range []string{"queue:item:b", "queue:item:a", "queue:abandoned:c", "audit:1"} {
		s.Require().NoError(s.store.Put(s.ctx, key, []byte(key)))
	}

	entries, err := s.store.List(s.ctx, "queue:item:")
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal("queue:item:a", entries[0].Key)
	s.Equal("queue:item:b", entries[1].Key)
	s.Equal([]byte("queue:item:a"), entries[0].Value)

	all, err := s.store.List(s.ctx, "")
	s.Require().NoError(err)
	s.Len(all, 4)
}

func (s *StoreSuite) TestJSONHelpers() {
	type payload struct {
		Code  string `json:"code"`
		Retry int    `json:"retry"`
	}
	s.Require().NoError(PutJSON(s.ctx, s.store, "queue:item:json", payload{Code: "AB12CD", Retry: 2}))

	var got payload
	s.Require().NoError(GetJSON(s.ctx, s.store, "queue:item:json", &got))
	s.Equal(payload{Code: "AB12CD", Retry: 2}, got)

	s.Require().NoError(s.store.Put(s.ctx, "queue:item:garbage", []byte("{not json")))
	err := GetJSON(s.ctx, s.store, "queue:item:garbage", &got)
	s.True(errors.Is(err, sentinel.ErrCorrupt))
}
