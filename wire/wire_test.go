package wire

import (
	"reflect"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	obj := map[string]any{
		"name":  "Juan",
		"id":    int64(3),
		"vy":    -3.25,
		"alive": true,
		"extra": nil,
		"list":  []any{int64(1), "two", 3.5, false},
		"nested": map[string]any{
			"x": int64(100),
			"y": 4.0,
		},
	}
	got := Decode(Encode(obj))
	if !reflect.DeepEqual(got, obj) {
		t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", got, obj)
	}
}

func TestRoundTripEscapes(t *testing.T) {
	obj := map[string]any{
		"msg": "line1\nline2\ttab \"quoted\" back\\slash\rret",
	}
	got := Decode(Encode(obj))
	if got["msg"] != obj["msg"] {
		t.Fatalf("escape round trip: got %q want %q", got["msg"], obj["msg"])
	}
}

func TestEncodeFloatKeepsFraction(t *testing.T) {
	s := Encode(map[string]any{"v": 5.0})
	if !strings.Contains(s, "5.0") {
		t.Fatalf("expected fractional form, got %s", s)
	}
	back := Decode(s)
	if _, ok := back["v"].(float64); !ok {
		t.Fatalf("expected float64 after round trip, got %T", back["v"])
	}
}

func TestDecodeEmptyInput(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\t"} {
		m := Decode(in)
		if m == nil || len(m) != 0 {
			t.Fatalf("Decode(%q) = %#v, want empty map", in, m)
		}
	}
}

func TestDecodeTrailingGarbage(t *testing.T) {
	m := Decode(`{"a":1}x`)
	if m["a"] != int64(1) {
		t.Fatalf("trailing garbage broke parse: %#v", m)
	}
	m = Decode(`{"a":1} {"b":2}`)
	if len(m) != 1 || m["a"] != int64(1) {
		t.Fatalf("expected first object only: %#v", m)
	}
}

func TestDecodeBrokenInputPartial(t *testing.T) {
	m := Decode(`{"a":1,"b":`)
	if m["a"] != int64(1) {
		t.Fatalf("expected best-effort partial map, got %#v", m)
	}
	// 非对象输入不恐慌，返回空 map
	if got := Decode("[1,2,3]"); len(got) != 0 {
		t.Fatalf("non-object input: %#v", got)
	}
}

func TestDecodeNumberForms(t *testing.T) {
	m := Decode(`{"i":42,"n":-7,"f":3.5,"e":1e3,"ne":-2.5E-1}`)
	if m["i"] != int64(42) || m["n"] != int64(-7) {
		t.Fatalf("integer parse: %#v", m)
	}
	if m["f"] != 3.5 || m["e"] != 1000.0 || m["ne"] != -0.25 {
		t.Fatalf("float parse: %#v", m)
	}
}

func TestDecodeLiterals(t *testing.T) {
	m := Decode(`{"t":true,"f":false,"z":null}`)
	if m["t"] != true || m["f"] != false {
		t.Fatalf("bool parse: %#v", m)
	}
	if v, ok := m["z"]; !ok || v != nil {
		t.Fatalf("null parse: %#v", m)
	}
}

func TestDecodeNested(t *testing.T) {
	m := Decode(`{"players":[{"id":0,"score":5},{"id":1,"score":4}]}`)
	arr := GetArray(m, "players")
	if len(arr) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(arr))
	}
	first := arr[0].(map[string]any)
	if GetInt(first, "score", -1) != 5 {
		t.Fatalf("nested score: %#v", first)
	}
}

func TestAccessorDefaults(t *testing.T) {
	m := Decode(`{"s":"hi","n":3,"f":2.5,"b":true}`)

	if GetString(m, "s", "x") != "hi" || GetString(m, "missing", "x") != "x" {
		t.Fatal("GetString")
	}
	if GetInt(m, "n", -1) != 3 || GetInt(m, "missing", -1) != -1 {
		t.Fatal("GetInt")
	}
	// 浮点值取整数、整数值取浮点都要能落回
	if GetInt(m, "f", -1) != 2 {
		t.Fatal("GetInt on float")
	}
	if GetFloat(m, "n", -1) != 3.0 {
		t.Fatal("GetFloat on int")
	}
	if !GetBool(m, "b", false) || GetBool(m, "missing", true) != true {
		t.Fatal("GetBool")
	}
	if len(GetArray(m, "missing")) != 0 {
		t.Fatal("GetArray default")
	}
	if len(GetObject(m, "missing")) != 0 {
		t.Fatal("GetObject default")
	}
}

func TestGetInt64Timestamp(t *testing.T) {
	m := Decode(`{"timestamp":1705600000000}`)
	if GetInt64(m, "timestamp", 0) != 1705600000000 {
		t.Fatalf("large int64: %#v", m["timestamp"])
	}
}
