package mccmnc

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOperators(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcc_mnc.json")
	data := `[
		{"mcc":"466","mnc":"92","iso":"tw","country":"Taiwan","country_code":"886","name":"Chunghwa Telecom"},
		{"mcc":"310","mnc":"260","iso":"us","country":"United States","country_code":"1","name":"T-Mobile"}
	]`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := LoadOperators(path); err != nil {
		t.Fatal(err)
	}
	defer SetTable(nil)

	tests := []struct {
		plmn string
		want string
	}{
		{"46692", "Chunghwa Telecom"},
		{"310260", "T-Mobile"},
		{"46601", ""},
		{"466", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Name(tt.plmn); got != tt.want {
			t.Errorf("Name(%q) = %q, want %q", tt.plmn, got, tt.want)
		}
	}
}

func TestNameWithoutTable(t *testing.T) {
	SetTable(nil)
	if got := Name("46692"); got != "" {
		t.Errorf("Name = %q", got)
	}
}

func TestLoadOperatorsErrors(t *testing.T) {
	if err := LoadOperators(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file accepted")
	}
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{"), 0o644)
	if err := LoadOperators(path); err == nil {
		t.Error("bad json accepted")
	}
}
