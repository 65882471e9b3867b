package conversion

import "testing"

func TestConvert(t *testing.T) {
	intOrString := Node{Kind: NodeScalarOrString, Tag: TypeInteger, Nullable: true}
	number := Node{Kind: NodeScalar, Tag: TypeNumber, Nullable: true}

	tests := []struct {
		name         string
		node         Node
		raw          *string
		want         any
		wantFellBack bool
	}{
		{"nil", intOrString, nil, nil, false},
		{"empty integer", intOrString, strPtr(""), nil, false},
		{"integer", intOrString, strPtr("42"), int64(42), false},
		{"integer fallback", intOrString, strPtr("n/a"), "n/a", true},
		{"decimal in integer column", intOrString, strPtr("4.5"), "4.5", true},
		{"number", number, strPtr("4.5"), 4.5, false},
		{"integer in number column", number, strPtr("4"), float64(4), false},
		{"date-time", DateTimeNode(), strPtr("2024-03-01"), "2024-03-01T00:00:00Z", false},
		{"date-time keeps offset", DateTimeNode(), strPtr("2024-03-01T10:00:00+02:00"), "2024-03-01T10:00:00+02:00", false},
		{"date-time fallback", DateTimeNode(), strPtr("yesterday"), "yesterday", true},
		{"string untouched", StringNode(), strPtr(" padded "), " padded ", false},
		{"empty string kept", StringNode(), strPtr(""), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fellBack := Convert(tt.node, tt.raw)
			if got != tt.want {
				t.Errorf("Convert = %#v, want %#v", got, tt.want)
			}
			if fellBack != tt.wantFellBack {
				t.Errorf("fellBack = %v, want %v", fellBack, tt.wantFellBack)
			}
		})
	}
}
