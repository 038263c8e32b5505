package topic

import "testing"

func TestConvertTopic(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		fn   Function
		want string
	}{
		{"dev//pir", Status, "dev/status/pir"},
		{"dev//pir", Set, "dev/set/pir"},
		{"dev//pir//x", Get, "dev/get/pir//x"},
		{"$alarm", Status, "logic/status/alarm"},
		{"$alarm", Set, "logic/set/alarm"},
		{"plain/topic", Set, "plain/topic"},
	}
	for _, tc := range cases {
		if got := ConvertTopic(tc.in, tc.fn); got != tc.want {
			t.Fatalf("ConvertTopic(%q,%s)=%q want %q", tc.in, tc.fn, got, tc.want)
		}
	}

	n := Namer{Prefix: "home/"}
	if got := n.ConvertTopic("$x", Get); got != "home/get/x" {
		t.Fatalf("custom prefix: %q", got)
	}
}

func TestStatusRoundTrip(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"dev//pir/status", "a//b", "x/y//z", "//lead"} {
		if got := RemoveStatusFunction(ConvertTopic(in, Status)); got != in {
			t.Fatalf("round trip %q -> %q", in, got)
		}
	}
}

func TestNormalizePattern(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"dev//pir":        "dev//pir",
		"dev/status/pir":  "dev//pir",
		"$alarm":          "logic//alarm",
		"hm//.*/STATE":    "hm//.*/STATE",
		"no/function/x.*": "no/function/x.*",
	}
	for in, want := range cases {
		if got := NormalizePattern(in); got != want {
			t.Fatalf("NormalizePattern(%q)=%q want %q", in, got, want)
		}
	}
}
