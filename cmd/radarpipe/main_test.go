package main

import "testing"

func TestDispatchFlags(t *testing.T) {
	fs, _, _ := dispatchFlags("dispatch", false)
	if fs.Lookup("force") == nil {
		t.Error("dispatch is missing the -force flag")
	}
	for _, name := range []string{"stage", "site", "start", "end"} {
		if fs.Lookup(name) == nil {
			t.Errorf("dispatch is missing the -%s flag", name)
		}
	}

	// Status is a read-only report; force has no meaning there.
	fs, _, _ = dispatchFlags("status", true)
	if fs.Lookup("force") != nil {
		t.Error("status accepts -force")
	}
}

func TestScanFlagsValidate(t *testing.T) {
	tests := []struct {
		name string
		sf   scanFlags
		ok   bool
	}{
		{"valid", scanFlags{stage: "split", start: "20250101", end: "20250102"}, true},
		{"open bounds", scanFlags{stage: "split"}, true},
		{"missing stage", scanFlags{}, false},
		{"bad start", scanFlags{stage: "split", start: "2025-01-01"}, false},
		{"bad end", scanFlags{stage: "split", end: "202501"}, false},
	}

	for _, tt := range tests {
		err := tt.sf.validate()
		if (err == nil) != tt.ok {
			t.Errorf("%s: validate() = %v, want ok=%v", tt.name, err, tt.ok)
		}
	}
}
