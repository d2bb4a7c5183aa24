package core

import (
	"testing"
	"time"
)

// ----------------------------------------------------------------------------
// Date normalization
// ----------------------------------------------------------------------------

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "canonical", input: "15/01/2024", want: "15/01/2024"},
		{name: "single digit day and month", input: "5/3/2024", want: "05/03/2024"},
		{name: "dashes", input: "15-01-2024", want: "15/01/2024"},
		{name: "iso", input: "2024-01-15", want: "15/01/2024"},
		{name: "iso single digits", input: "2024-1-5", want: "05/01/2024"},
		{name: "month and year", input: "03/2024", want: "01/03/2024"},
		{name: "month and short year", input: "03/24", want: "01/03/2024"},
		{name: "inner whitespace", input: " 15 / 01 / 2024 ", want: "15/01/2024"},
		{name: "blank", input: "   ", want: ""},
		{name: "unrecognized passes through", input: "jan 2024", want: "jan 2024"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeDate(tt.input); got != tt.want {
				t.Errorf("NormalizeDate(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		input  string
		wantOK bool
		want   time.Time
	}{
		{input: "15/01/2024", wantOK: true, want: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{input: "29/02/2024", wantOK: true, want: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{input: "29/02/2023", wantOK: false},
		{input: "31/04/2024", wantOK: false},
		{input: "00/01/2024", wantOK: false},
		{input: "01/13/2024", wantOK: false},
		{input: "2024-01-15", wantOK: false},
		{input: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseDate(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParseDate(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("ParseDate(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestAddDays(t *testing.T) {
	tests := []struct {
		name string
		base string
		days int
		want string
	}{
		{name: "thirty days", base: "15/01/2024", days: 30, want: "14/02/2024"},
		{name: "ninety days across leap february", base: "10/01/2024", days: 90, want: "09/04/2024"},
		{name: "year boundary", base: "15/12/2023", days: 30, want: "14/01/2024"},
		{name: "zero days", base: "15/01/2024", days: 0, want: ""},
		{name: "negative days", base: "15/01/2024", days: -5, want: ""},
		{name: "impossible base", base: "31/02/2024", days: 10, want: ""},
		{name: "non canonical base", base: "2024-01-15", days: 10, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AddDays(tt.base, tt.days); got != tt.want {
				t.Errorf("AddDays(%q, %d) = %q, want %q", tt.base, tt.days, got, tt.want)
			}
		})
	}
}

func TestAddDaysText(t *testing.T) {
	if got := AddDaysText("15/01/2024", " 30 "); got != "14/02/2024" {
		t.Errorf("AddDaysText() = %q, want %q", got, "14/02/2024")
	}
	if got := AddDaysText("15/01/2024", "abc"); got != "" {
		t.Errorf("AddDaysText(non-numeric) = %q, want empty", got)
	}
}

func TestDaysUntil(t *testing.T) {
	today := time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		due    string
		want   int
		wantOK bool
	}{
		{due: "01/03/2024", want: 0, wantOK: true},
		{due: "31/03/2024", want: 30, wantOK: true},
		{due: "28/02/2024", want: -2, wantOK: true},
		{due: "garbage", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.due, func(t *testing.T) {
			got, ok := DaysUntil(tt.due, today)
			if ok != tt.wantOK {
				t.Fatalf("DaysUntil(%q) ok = %v, want %v", tt.due, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("DaysUntil(%q) = %d, want %d", tt.due, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// Numbers and keys
// ----------------------------------------------------------------------------

func TestToPositiveIntText(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "90", want: "90"},
		{input: "90 dias", want: "90"},
		{input: "007", want: "7"},
		{input: "1.000", want: "1000"},
		{input: "000", want: "0"},
		{input: "99999999999999999999", want: "99999999999999999999"},
		{input: "", want: ""},
		{input: "mensal", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ToPositiveIntText(tt.input); got != tt.want {
				t.Errorf("ToPositiveIntText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestEquipmentKey(t *testing.T) {
	tests := []struct {
		name  string
		tag   string
		asset string
		want  string
	}{
		{name: "identity tag wins", tag: "1234", asset: "P-9", want: "tasy:1234"},
		{name: "asset fallback", tag: "  ", asset: "P-9", want: "asset:P-9"},
		{name: "trimmed", tag: " 77 ", asset: "", want: "tasy:77"},
		{name: "no identity", tag: "", asset: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EquipmentKey(tt.tag, tt.asset); got != tt.want {
				t.Errorf("EquipmentKey(%q, %q) = %q, want %q", tt.tag, tt.asset, got, tt.want)
			}
		})
	}
}

func TestPlanKey(t *testing.T) {
	tests := []struct {
		equip    string
		activity string
		want     string
	}{
		{equip: "tasy:1234", activity: "Calibração", want: "tasy:1234::calibração"},
		{equip: "tasy:1234", activity: "  Preventiva ", want: "tasy:1234::preventiva"},
		{equip: "asset:P-9", activity: "", want: "asset:P-9::preventive"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := PlanKey(tt.equip, tt.activity); got != tt.want {
				t.Errorf("PlanKey(%q, %q) = %q, want %q", tt.equip, tt.activity, got, tt.want)
			}
		})
	}
}

func TestSameText(t *testing.T) {
	if !sameText("  UTI   Adulto ", "uti adulto") {
		t.Error("sameText() should ignore case and runs of whitespace")
	}
	if sameText("UTI", "UTI 2") {
		t.Error("sameText() matched different values")
	}
}
