package storage

import "testing"

func TestBuildResultPath(t *testing.T) {
	key, err := BuildResultPath(12, 55, "0f8fad5b-d9cb-469f-a165-70867728950e")
	if err != nil {
		t.Fatalf("BuildResultPath() error = %v", err)
	}
	want := "results/12/55/0f8fad5b-d9cb-469f-a165-70867728950e.parquet"
	if key != want {
		t.Fatalf("BuildResultPath() = %q, want %q", key, want)
	}
	if err := ValidateResultPath(key); err != nil {
		t.Fatalf("ValidateResultPath() error = %v", err)
	}
}

func TestBuildResultPathWithoutConversation(t *testing.T) {
	key, err := BuildResultPath(12, 0, "abc")
	if err != nil {
		t.Fatalf("BuildResultPath() error = %v", err)
	}
	if key != "results/12/adhoc/abc.parquet" {
		t.Fatalf("BuildResultPath() = %q", key)
	}
}

func TestBuildResultPathRejectsInvalidComponent(t *testing.T) {
	for name, build := range map[string]func() error{
		"traversal": func() error { _, err := BuildResultPath(1, 1, "../oops"); return err },
		"dots":      func() error { _, err := BuildResultPath(1, 1, "a..b"); return err },
		"zero conn": func() error { _, err := BuildResultPath(0, 1, "a"); return err },
		"neg conv":  func() error { _, err := BuildResultPath(1, -1, "a"); return err },
	} {
		if build() == nil {
			t.Fatalf("%s: expected invalid component error", name)
		}
	}
}

func TestValidateResultPathRejectsForeignKeys(t *testing.T) {
	for _, key := range []string{
		"",
		"results/1/2/x.csv",
		"results/1/../x.parquet",
		"other/1/2/x.parquet",
		"results/1/2/3/x.parquet",
		"/results/1/2/x.parquet",
	} {
		if err := ValidateResultPath(key); err == nil {
			t.Fatalf("ValidateResultPath(%q) should fail", key)
		}
	}
}
