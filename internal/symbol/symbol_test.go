package symbol

import (
	"errors"
	"testing"
	"time"
)

func TestDecode_ValidSymbols(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		underlying string
		expiration time.Time
		optType    OptionType
		strike     float64
	}{
		{
			name:       "padded 3-char root",
			input:      "SPY   250919C00630000",
			underlying: "SPY",
			expiration: time.Date(2025, 9, 19, 0, 0, 0, 0, time.UTC),
			optType:    Call,
			strike:     630.00,
		},
		{
			name:       "padded 4-char root put",
			input:      "BRKB  250117P05000000",
			underlying: "BRKB",
			expiration: time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC),
			optType:    Put,
			strike:     5000.00,
		},
		{
			name:       "compact 3-char root",
			input:      "SPY250919C00630000",
			underlying: "SPY",
			expiration: time.Date(2025, 9, 19, 0, 0, 0, 0, time.UTC),
			optType:    Call,
			strike:     630.00,
		},
		{
			name:       "compact 4-char root",
			input:      "TSLA241220P00250000",
			underlying: "TSLA",
			expiration: time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC),
			optType:    Put,
			strike:     250.00,
		},
		{
			name:       "compact 5-char root",
			input:      "GOOGL260116C00180500",
			underlying: "GOOGL",
			expiration: time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC),
			optType:    Call,
			strike:     180.50,
		},
		{
			name:       "fractional strike",
			input:      "SPY   250919P00630500",
			underlying: "SPY",
			expiration: time.Date(2025, 9, 19, 0, 0, 0, 0, time.UTC),
			optType:    Put,
			strike:     630.50,
		},
		{
			name:       "1-char root",
			input:      "F     260116C00012500",
			underlying: "F",
			expiration: time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC),
			optType:    Call,
			strike:     12.50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Decode(tt.input)
			if err != nil {
				t.Fatalf("Decode(%q) returned error: %v", tt.input, err)
			}
			if c.Underlying != tt.underlying {
				t.Errorf("Underlying = %q, want %q", c.Underlying, tt.underlying)
			}
			if !c.Expiration.Equal(tt.expiration) {
				t.Errorf("Expiration = %v, want %v", c.Expiration, tt.expiration)
			}
			if c.Type != tt.optType {
				t.Errorf("Type = %q, want %q", c.Type, tt.optType)
			}
			if c.Strike != tt.strike {
				t.Errorf("Strike = %v, want %v", c.Strike, tt.strike)
			}
			if c.Raw != tt.input {
				t.Errorf("Raw = %q, want the original input %q", c.Raw, tt.input)
			}
		})
	}
}

func TestDecode_InvalidSymbols(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		segment string
	}{
		{name: "empty string", input: "", segment: "root"},
		{name: "too short", input: "SPY250919C", segment: "root"},
		{name: "root too long", input: "TOOLONGG250919C00630000", segment: "root"},
		{name: "6-letter root", input: "GOOGLE250919C00180000", segment: "root"},
		{name: "root all spaces", input: "      250919C00630000", segment: "root"},
		{name: "root with digit", input: "SP1   250919C00630000", segment: "root"},
		{name: "root lowercase", input: "spy   250919C00630000", segment: "root"},
		{name: "month 13", input: "SPY   251319C00630000", segment: "date"},
		{name: "month zero", input: "SPY   250019C00630000", segment: "date"},
		{name: "day 32", input: "SPY   250932C00630000", segment: "date"},
		{name: "day zero", input: "SPY   250900C00630000", segment: "date"},
		{name: "type X", input: "SPY   250919X00630000", segment: "type"},
		{name: "type lowercase", input: "SPY   250919c00630000", segment: "type"},
		{name: "zero strike", input: "SPY   250919C00000000", segment: "strike"},
		{name: "strike with letter", input: "SPY   250919C0063000A", segment: "strike"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			if err == nil {
				t.Fatalf("Decode(%q) succeeded, want %s error", tt.input, tt.segment)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("Decode(%q) error type = %T, want *DecodeError", tt.input, err)
			}
			if de.Segment != tt.segment {
				t.Errorf("Segment = %q, want %q (error: %v)", de.Segment, tt.segment, err)
			}
		})
	}
}

func TestDecode_StrikeLimitConfigurable(t *testing.T) {
	orig := MaxStrike
	defer func() { MaxStrike = orig }()

	// 5000.00 decodes fine under the default limit.
	if _, err := Decode("BRKB  250117P05000000"); err != nil {
		t.Fatalf("unexpected error under default limit: %v", err)
	}

	MaxStrike = 1000
	_, err := Decode("BRKB  250117P05000000")
	var de *DecodeError
	if !errors.As(err, &de) || de.Segment != "strike" {
		t.Fatalf("Decode under lowered limit = %v, want strike DecodeError", err)
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name     string
		contract Contract
		want     string
		wantErr  bool
	}{
		{
			name: "3-char root padded to 6",
			contract: Contract{
				Underlying: "SPY",
				Expiration: time.Date(2025, 9, 19, 0, 0, 0, 0, time.UTC),
				Type:       Call,
				Strike:     630.00,
			},
			want: "SPY   250919C00630000",
		},
		{
			name: "4-char root put",
			contract: Contract{
				Underlying: "BRKB",
				Expiration: time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC),
				Type:       Put,
				Strike:     5000.00,
			},
			want: "BRKB  250117P05000000",
		},
		{
			name: "fractional strike rounds to thousandths",
			contract: Contract{
				Underlying: "SPY",
				Expiration: time.Date(2025, 9, 19, 0, 0, 0, 0, time.UTC),
				Type:       Put,
				Strike:     630.505,
			},
			want: "SPY   250919P00630505",
		},
		{
			name: "zero strike rejected",
			contract: Contract{
				Underlying: "SPY",
				Expiration: time.Date(2025, 9, 19, 0, 0, 0, 0, time.UTC),
				Type:       Call,
				Strike:     0,
			},
			wantErr: true,
		},
		{
			name: "strike at limit rejected",
			contract: Contract{
				Underlying: "SPY",
				Expiration: time.Date(2025, 9, 19, 0, 0, 0, 0, time.UTC),
				Type:       Call,
				Strike:     100000,
			},
			wantErr: true,
		},
		{
			name: "empty root rejected",
			contract: Contract{
				Underlying: "",
				Expiration: time.Date(2025, 9, 19, 0, 0, 0, 0, time.UTC),
				Type:       Call,
				Strike:     100,
			},
			wantErr: true,
		},
		{
			name: "unknown type rejected",
			contract: Contract{
				Underlying: "SPY",
				Expiration: time.Date(2025, 9, 19, 0, 0, 0, 0, time.UTC),
				Type:       OptionType("STRADDLE"),
				Strike:     100,
			},
			wantErr: true,
		},
		{
			name: "6-letter root rejected",
			contract: Contract{
				Underlying: "GOOGLE",
				Expiration: time.Date(2025, 9, 19, 0, 0, 0, 0, time.UTC),
				Type:       Call,
				Strike:     180,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.contract)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Encode(%+v) = %q, want error", tt.contract, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Encode(%+v) returned error: %v", tt.contract, err)
			}
			if got != tt.want {
				t.Errorf("Encode = %q, want %q", got, tt.want)
			}
			if len(got) != 21 {
				t.Errorf("len(Encode) = %d, want 21", len(got))
			}
		})
	}
}

func TestRoundTrip_PaddedSymbols(t *testing.T) {
	symbols := []string{
		"SPY   250919C00630000",
		"SPY   250919P00630000",
		"TSLA  241220P00250000",
		"GOOGL 260116C00180500",
		"A     250117C00095000",
		"QQQ   251003P00480250",
	}
	for _, s := range symbols {
		c, err := Decode(s)
		if err != nil {
			t.Fatalf("Decode(%q): %v", s, err)
		}
		out, err := Encode(c)
		if err != nil {
			t.Fatalf("Encode(Decode(%q)): %v", s, err)
		}
		if out != s {
			t.Errorf("round trip %q -> %q", s, out)
		}
	}
}

func TestDecode_Deterministic(t *testing.T) {
	const s = "SPY   250919C00630000"
	first, err := Decode(s)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		again, err := Decode(s)
		if err != nil {
			t.Fatal(err)
		}
		if again != first {
			t.Fatalf("decode not deterministic: %+v vs %+v", again, first)
		}
	}
}
