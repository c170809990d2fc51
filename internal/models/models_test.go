package models

import (
	"reflect"
	"strings"
	"testing"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestConversation_Fields(t *testing.T) {
	typ := reflect.TypeOf(Conversation{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "size:36")
	assertGormTag(t, typ, "Title", "size:256")

	assertFieldType(t, typ, "CreatedAt", "time.Time")
	assertFieldType(t, typ, "UpdatedAt", "time.Time")
}

func TestConversation_Relations(t *testing.T) {
	typ := reflect.TypeOf(Conversation{})

	assertGormTag(t, typ, "Events", "foreignKey:ConversationID")
	assertFieldType(t, typ, "Events", "[]models.ConversationEvent")
}

func TestConversationEvent_Fields(t *testing.T) {
	typ := reflect.TypeOf(ConversationEvent{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "autoIncrement")
	assertGormTag(t, typ, "ConversationID", "size:36")
	assertGormTag(t, typ, "ConversationID", "not null")
	assertGormTag(t, typ, "ConversationID", "uniqueIndex:idx_conversation_seq")
	assertGormTag(t, typ, "Sequence", "uniqueIndex:idx_conversation_seq")
	assertGormTag(t, typ, "Role", "size:16")
	assertGormTag(t, typ, "Content", "type:text")
	assertGormTag(t, typ, "Files", "type:json")
	assertGormTag(t, typ, "Config", "type:json")
	assertGormTag(t, typ, "IsError", "default:false")
	assertGormTag(t, typ, "PPTXURL", "size:1024")

	assertFieldType(t, typ, "ID", "uint")
	assertFieldType(t, typ, "Sequence", "int")
	assertFieldType(t, typ, "IsError", "bool")
	assertFieldType(t, typ, "CreatedAt", "time.Time")
}
