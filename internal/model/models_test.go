package model

import (
	"sync"
	"testing"

	"gorm.io/gorm/schema"
)

func TestEntityPayloadColumnType(t *testing.T) {
	s, err := schema.Parse(&Entity{}, &sync.Map{}, schema.NamingStrategy{})
	if err != nil {
		t.Fatalf("parse schema error: %v", err)
	}
	field := s.LookUpField("Payload")
	if field == nil {
		t.Fatalf("payload field not found")
	}
	if string(field.DataType) != "longtext" {
		t.Fatalf("payload must be longtext to hold large documents on mysql, got %q", field.DataType)
	}

	pk := s.PrimaryFieldDBNames
	if len(pk) != 2 || pk[0] != "kind" || pk[1] != "id" {
		t.Fatalf("expected composite primary key (kind, id), got %v", pk)
	}
}
