package plan

import "testing"

func TestFormatCondition(t *testing.T) {
	age := ComparisonCondition{Left: "age", Operator: ">", Right: "18"}
	sex := ComparisonCondition{Left: "sex", Operator: "==", Right: "F"}

	tests := []struct {
		name string
		cond Condition
		want string
	}{
		{"comparison", age, "age > 18"},
		{"logical", LogicalCondition{Operator: "AND", Conditions: []Condition{age, sex}}, "age > 18 AND sex == F"},
		{"raw", RawCondition("count >= 3"), "count >= 3"},
		{"expression", ExpressionCondition{Expression: "len(notes) > 0"}, "len(notes) > 0"},
		{"nil", nil, ""},
		{"opaque", OpaqueCondition(`{ "type": "regex", "pattern": "x" }`), `{"type":"regex","pattern":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatCondition(tt.cond); got != tt.want {
				t.Errorf("FormatCondition() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseCondition_Nested(t *testing.T) {
	c, err := ParseCondition([]byte(`{"type":"logical","operator":"OR","conditions":[
		"flagged",
		{"type":"expression","expression":"score > 2"},
		{"type":"logical","operator":"AND","conditions":[{"type":"comparison","left":"a","operator":"<","right":1},"b"]}
	]}`))
	if err != nil {
		t.Fatal(err)
	}
	want := "flagged OR score > 2 OR a < 1 AND b"
	if got := FormatCondition(c); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestParseCondition_Unknown(t *testing.T) {
	c, err := ParseCondition([]byte(`{"type":"between","low":1,"high":3}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(OpaqueCondition); !ok {
		t.Fatalf("expected OpaqueCondition, got %T", c)
	}
}

func TestSynopsis(t *testing.T) {
	tests := []struct {
		step Step
		want string
	}{
		{&ToolStep{Tool: "keyword_count"}, "keyword_count"},
		{&IfStep{Condition: RawCondition("x")}, "x"},
		{&LoopStep{Var: "n", In: "notes"}, "for n in notes"},
		{&FlagStep{Variable: "done", Value: true}, "done = true"},
		{&FlagStep{Variable: "label", Value: "high"}, "label = high"},
	}
	for _, tt := range tests {
		if got := Synopsis(tt.step); got != tt.want {
			t.Errorf("Synopsis(%T) = %q, want %q", tt.step, got, tt.want)
		}
	}
}
