package toolcall

import (
	"math"
	"testing"

	"rhythm/functions"
)

type named string

func (n named) String() string { return "named:" + string(n) }

type exploding struct{}

func (exploding) MarshalJSON() ([]byte, error) { panic("boom") }

func TestSerializeResult(t *testing.T) {
	cyclic := map[string]any{}
	cyclic["self"] = cyclic

	var nilResult *functions.Result
	var nilMap map[string]any

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, NoOutput},
		{"typed nil pointer", nilResult, NoOutput},
		{"nil map", nilMap, NoOutput},
		{"empty marker map", map[string]any{"_empty": true}, NoOutput},
		{"empty registry result", &functions.Result{Empty: true}, NoOutput},
		{"registry result without data", functions.Result{}, NoOutput},
		{"registry result data", &functions.Result{Data: []string{"a", "b"}}, `["a","b"]`},
		{"string", "plain text", "plain text"},
		{"empty string", "", ""},
		{"int", 42, "42"},
		{"float", 1.5, "1.5"},
		{"bool", true, "true"},
		{"bytes", []byte("raw"), "raw"},
		{"stringer", named("x"), "named:x"},
		{"object", map[string]any{"trackName": "Song 1"}, `{"trackName":"Song 1"}`},
		{"empty slice", []any{}, "[]"},
		{"cyclic", cyclic, Unserializable},
		{"channel", map[string]any{"c": make(chan int)}, Unserializable},
		{"nan", map[string]any{"n": math.NaN()}, Unserializable},
		{"panicking marshaler", exploding{}, Unserializable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SerializeResult(tt.in); got != tt.want {
				t.Errorf("SerializeResult() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want resultKind
	}{
		{"plain value", "ok", kindSuccess},
		{"nil", nil, kindSuccess},
		{"validation map", map[string]any{"validationErrors": []any{"bad limit"}}, kindValidation},
		{"empty validation list", map[string]any{"validationErrors": []any{}}, kindSuccess},
		{"error map", map[string]any{"error": "failed"}, kindFailed},
		{"empty error string", map[string]any{"error": ""}, kindSuccess},
		{"premium map", map[string]any{"premium_required": true, "premiumFeatures": []any{"genre_insights"}}, kindPremium},
		{"premium false", map[string]any{"premium_required": false}, kindSuccess},
		{"registry validation", &functions.Result{ValidationErrors: []string{"x"}}, kindValidation},
		{"registry error", functions.Result{Error: "x"}, kindFailed},
		{"registry premium", &functions.Result{PremiumRequired: true}, kindPremium},
		{"registry data", &functions.Result{Data: 1}, kindSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.in).kind; got != tt.want {
				t.Errorf("classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyPremiumFeatures(t *testing.T) {
	c := classify(map[string]any{"premium_required": true, "premiumFeatures": []any{"genre_insights", "history_search"}})
	if len(c.features) != 2 || c.features[0] != "genre_insights" {
		t.Errorf("features = %v", c.features)
	}
}
