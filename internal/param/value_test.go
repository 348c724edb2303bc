package param_test

import (
	"testing"

	"github.com/snehjoshi/nvlog/internal/param"
)

func TestParseValue(t *testing.T) {
	cases := []struct {
		typ     param.Type
		text    string
		want    param.Value
		wantErr bool
	}{
		{param.TypeInt, "-12", param.Int(-12), false},
		{param.TypeInt, "0x10", param.Int(16), false},
		{param.TypeInt, "3000000000", param.Value{}, true},
		{param.TypeFloat, "2.5", param.Float(2.5), false},
		{param.TypeFloat, "warm", param.Value{}, true},
		{param.TypeUint8, "255", param.Uint8(255), false},
		{param.TypeUint8, "256", param.Value{}, true},
		{param.TypeUint16, "65535", param.Uint16(65535), false},
		{param.TypeUint32, "12000", param.Uint32(12000), false},
		{param.TypeUint32, "-1", param.Value{}, true},
		{param.TypeString, "V1.1", param.String("V1.1"), false},
	}
	for _, tc := range cases {
		got, err := param.ParseValue(tc.typ, tc.text)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseValue(%s, %q): expected error, got %s", tc.typ, tc.text, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseValue(%s, %q): %v", tc.typ, tc.text, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseValue(%s, %q): expected %s, got %s", tc.typ, tc.text, tc.want, got)
		}
	}
}

func TestValueString(t *testing.T) {
	cases := map[string]param.Value{
		"-3":     param.Int(-3),
		"2.5":    param.Float(2.5),
		"7":      param.Uint16(7),
		`"V1.0"`: param.String("V1.0"),
		"<none>": {},
	}
	for want, v := range cases {
		if got := v.String(); got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	}
}

func TestTypeString(t *testing.T) {
	if got := param.TypeUint32.String(); got != "u32" {
		t.Fatalf("expected u32, got %s", got)
	}
	if got := param.Type(42).String(); got != "Type(42)" {
		t.Fatalf("expected Type(42), got %s", got)
	}
}
