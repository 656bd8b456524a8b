package domain

import "testing"

func TestApplyPatchOverwritesAndAppends(t *testing.T) {
	base := Document{
		"id":       "t1",
		"priority": "LOW",
		"history":  []any{map[string]any{"id": "h1", "change": "created"}},
	}
	patch := Document{
		"priority": "HIGH",
		"history":  []any{map[string]any{"id": "h2", "change": "Priority: Low → High"}},
	}
	got := ApplyPatch(base, patch)
	if got["priority"] != "HIGH" {
		t.Errorf("priority = %v", got["priority"])
	}
	history := got["history"].([]any)
	if len(history) != 2 {
		t.Fatalf("history len = %d, want 2", len(history))
	}
	if base["priority"] != "LOW" || len(base["history"].([]any)) != 1 {
		t.Error("ApplyPatch mutated base")
	}
}

func TestApplyPatchIsIdempotent(t *testing.T) {
	patch := Document{
		"status":  "RESOLVED",
		"history": []any{map[string]any{"id": "h2"}},
	}
	once := ApplyPatch(Document{"id": "t1"}, patch)
	twice := ApplyPatch(once, patch)
	if len(twice["history"].([]any)) != 1 {
		t.Errorf("replayed patch duplicated history: %v", twice["history"])
	}
}

func TestApplyPatchNilClears(t *testing.T) {
	got := ApplyPatch(Document{"dateResolved": "2024-01-01T00:00:00Z"}, Document{"dateResolved": nil})
	if v, ok := got["dateResolved"]; !ok || v != nil {
		t.Errorf("dateResolved = %v (present %v), want explicit nil", v, ok)
	}
}

func TestMergePatchesLaterWins(t *testing.T) {
	first := Document{"priority": "HIGH", "history": []any{map[string]any{"id": "h1"}}}
	second := Document{"status": "RESOLVED", "history": []any{map[string]any{"id": "h2"}}}
	merged := MergePatches(first, second)
	if merged["priority"] != "HIGH" || merged["status"] != "RESOLVED" {
		t.Errorf("merged = %v", merged)
	}
	if len(merged["history"].([]any)) != 2 {
		t.Errorf("merged history = %v", merged["history"])
	}
}

func TestReplaceStringDeep(t *testing.T) {
	doc := Document{
		"ticketRef": "tmp-1",
		"history":   []any{map[string]any{"id": "h1", "ticketId": "tmp-1"}},
		"other":     "keep",
	}
	if !doc.ReplaceString("tmp-1", "real-1") {
		t.Fatal("expected replacement")
	}
	if doc["ticketRef"] != "real-1" {
		t.Errorf("ticketRef = %v", doc["ticketRef"])
	}
	entry := doc["history"].([]any)[0].(map[string]any)
	if entry["ticketId"] != "real-1" {
		t.Errorf("nested ticketId = %v", entry["ticketId"])
	}
	if got := doc.StringsWithPrefix(TempIDPrefix); len(got) != 0 {
		t.Errorf("temp ids left behind: %v", got)
	}
}

func TestMutationApply(t *testing.T) {
	create := PendingMutation{Kind: MutationCreate, TargetID: "tmp-1", Payload: Document{"title": "x"}}
	doc := create.Apply(nil)
	if doc.ID() != "tmp-1" || doc["title"] != "x" {
		t.Errorf("create apply = %v", doc)
	}
	update := PendingMutation{Kind: MutationUpdate, TargetID: "tmp-1", Payload: Document{"title": "y"}}
	if got := update.Apply(doc); got["title"] != "y" {
		t.Errorf("update apply = %v", got)
	}
	del := PendingMutation{Kind: MutationDelete, TargetID: "tmp-1"}
	if got := del.Apply(doc); got != nil {
		t.Errorf("delete apply = %v, want nil", got)
	}
}

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name    string
		et      EntityType
		doc     Document
		wantErr bool
	}{
		{"valid ticket patch", EntityTypeTickets, Document{"status": "RESOLVED", "priority": "HIGH"}, false},
		{"absent fields", EntityTypeTickets, Document{"notes": "x"}, false},
		{"bad status", EntityTypeTickets, Document{"status": "CLOSED"}, true},
		{"bad priority type", EntityTypeTickets, Document{"priority": 3.0}, true},
		{"bad role", EntityTypeUsers, Document{"role": "ROOT"}, true},
		{"technicians unchecked", EntityTypeTechnicians, Document{"status": "whatever"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument(tt.et, tt.doc)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateDocument() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
