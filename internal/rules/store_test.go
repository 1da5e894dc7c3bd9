package rules

import (
	"errors"
	"testing"

	"github.com/aman-churiwal/admission-gateway/internal/models"
)

func TestStore_PartitionsCombineInOrder(t *testing.T) {
	s := NewStore(ValidateOptions{})

	if err := s.Replace(PartitionFile, []models.RateLimitRule{rule("f1", "/a", 1)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(PartitionAdmin, rule("a1", "/b", 1)); err != nil {
		t.Fatal(err)
	}

	got := s.ListRules()
	if len(got) != 2 || got[0].ID != "f1" || got[1].ID != "a1" {
		t.Errorf("ListRules = %+v", got)
	}
}

func TestStore_InvalidReplaceKeepsPrevious(t *testing.T) {
	s := NewStore(ValidateOptions{})
	_ = s.Replace(PartitionFile, []models.RateLimitRule{rule("good", "/a", 1)})

	bad := rule("bad", "/a", 1)
	bad.MaxRequests = 0
	if err := s.Replace(PartitionFile, []models.RateLimitRule{bad}); err == nil {
		t.Fatal("expected validation error")
	}

	if _, ok := s.Find("good"); !ok {
		t.Error("previous rules should stay live after a failed reload")
	}
}

func TestStore_DuplicateAcrossPartitions(t *testing.T) {
	s := NewStore(ValidateOptions{})
	_ = s.Replace(PartitionFile, []models.RateLimitRule{rule("same", "/a", 1)})

	if err := s.Upsert(PartitionAdmin, rule("same", "/b", 1)); err == nil {
		t.Error("ids must be unique across partitions")
	}
	if len(s.ListRules()) != 1 {
		t.Error("failed upsert must not publish")
	}
}

func TestStore_UpsertReplacesAndDelete(t *testing.T) {
	s := NewStore(ValidateOptions{})
	changes := 0
	s.OnChange(func() { changes++ })

	_ = s.Upsert(PartitionAdmin, rule("r", "/a", 1))
	updated := rule("r", "/a", 1)
	updated.MaxRequests = 99
	_ = s.Upsert(PartitionAdmin, updated)

	got, _ := s.Find("r")
	if got.MaxRequests != 99 {
		t.Errorf("MaxRequests = %d, want 99", got.MaxRequests)
	}

	if err := s.Delete("r"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete("r"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("second Delete err = %v, want ErrRuleNotFound", err)
	}
	if changes != 3 {
		t.Errorf("OnChange ran %d times, want 3", changes)
	}
}
