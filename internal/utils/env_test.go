package utils

import "testing"

func TestGetEnv(t *testing.T) {
	t.Setenv("TCM_TEST_STR", "configured")
	if got := GetEnv("TCM_TEST_STR", "fallback", nil); got != "configured" {
		t.Fatalf("GetEnv = %q", got)
	}
	if got := GetEnv("TCM_TEST_STR_MISSING", "fallback", nil); got != "fallback" {
		t.Fatalf("GetEnv missing = %q", got)
	}
}

func TestGetEnvAsInt(t *testing.T) {
	cases := []struct {
		name string
		val  string
		set  bool
		want int
	}{
		{"set", "42", true, 42},
		{"missing", "", false, 30},
		{"unparsable", "forty-two", true, 30},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.set {
				t.Setenv("TCM_TEST_INT", tc.val)
			}
			if got := GetEnvAsInt("TCM_TEST_INT", 30, nil); got != tc.want {
				t.Fatalf("GetEnvAsInt = %d, want %d", got, tc.want)
			}
		})
	}
}
