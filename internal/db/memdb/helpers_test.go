package memdb_test

import "github.com/google/uuid"

func newID() uuid.UUID { return uuid.New() }

func nullID(id uuid.UUID) uuid.NullUUID { return uuid.NullUUID{UUID: id, Valid: true} }
