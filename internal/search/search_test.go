package search

import (
	"strconv"
	"testing"
	"time"
)

func TestLexComparisonOperators(t *testing.T) {
	lex := NewLexer(`=  !=  >`)
	want := []struct {
		kind TokenKind
		text string
	}{
		{TokCompareOp, "="},
		{TokCompareOp, "!="},
		{TokCompareOp, ">"},
		{TokEOF, ""},
	}
	for i, w := range want {
		tok, err := lex.Next()
		if err != nil {
			t.Fatalf("token %d: %v", i, err)
		}
		if tok.Kind != w.kind {
			t.Fatalf("token %d: kind = %v, want %v", i, tok.Kind, w.kind)
		}
		if w.kind != TokEOF && tok.Text != w.text {
			t.Fatalf("token %d: text = %q, want %q", i, tok.Text, w.text)
		}
	}
}

func TestParseSimpleEquals(t *testing.T) {
	ast, err := Parse(`dc:title="Hospital Roll Call"`, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got := RenderLiteral(ast)
	want := `(name='dc:title' AND LOWER(value)=LOWER('Hospital Roll Call'))`
	if got != want {
		t.Fatalf("RenderLiteral = %q, want %q", got, want)
	}
}

func TestParseMixedBoolean(t *testing.T) {
	input := `upnp:class derivedfrom "object.item.audioItem" and (upnp:artist="King Krule" or dc:title="Heartattack and Vine")`
	ast, err := Parse(input, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got := RenderLiteral(ast)
	want := `(LOWER(class) LIKE LOWER('object.item.audioItem%')) AND ((name='upnp:artist' AND LOWER(value)=LOWER('King Krule')) OR (name='dc:title' AND LOWER(value)=LOWER('Heartattack and Vine')))`
	if got != want {
		t.Fatalf("RenderLiteral = %q, want %q", got, want)
	}
}

func TestParseSortKnownAndUnknownColumns(t *testing.T) {
	mapper := DefaultColumnMapper{}

	keys := ParseSort("+id,-name,+value", mapper)
	if len(keys) != 3 {
		t.Fatalf("len(keys) = %d, want 3", len(keys))
	}
	if keys[0].Column != "id" || keys[0].Desc {
		t.Fatalf("keys[0] = %+v, want (id, ASC)", keys[0])
	}
	if keys[1].Column != "title" || !keys[1].Desc {
		t.Fatalf("keys[1] = %+v, want (title, DESC)", keys[1])
	}
	if keys[2].Column != "value" || keys[2].Desc {
		t.Fatalf("keys[2] = %+v, want (value, ASC)", keys[2])
	}

	keysWithUnknown := ParseSort("+id,nme,+value", mapper)
	if len(keysWithUnknown) != 2 {
		t.Fatalf("unknown column was not skipped: got %d keys, want 2: %+v", len(keysWithUnknown), keysWithUnknown)
	}
	if keysWithUnknown[0].Column != "id" || keysWithUnknown[1].Column != "value" {
		t.Fatalf("unexpected keys after skip: %+v", keysWithUnknown)
	}
}

func TestCompileMetadataEquality(t *testing.T) {
	ast, err := Parse(`dc:title="Heartattack"`, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	expr, err := Compile(ast, DefaultColumnMapper{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(expr.Args) != 2 || expr.Args[0] != "dc:title" || expr.Args[1] != "Heartattack" {
		t.Fatalf("unexpected bind args: %+v", expr.Args)
	}
	if expr.SQL == "" {
		t.Fatal("expected non-empty compiled SQL")
	}
}

func TestParseRejectsUnterminatedString(t *testing.T) {
	_, err := Parse(`dc:title="unterminated`, time.Unix(0, 0))
	if err == nil {
		t.Fatal("expected a parse error for an unterminated string literal")
	}
}

func TestDynamicLiteralSubstitution(t *testing.T) {
	now := time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC)
	ast, err := Parse(`dc:date > @last7`, now)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rel, ok := ast.(*RelExpr)
	if !ok {
		t.Fatalf("ast = %T, want *RelExpr", ast)
	}
	wantEpoch := now.Add(-7 * 24 * time.Hour).Unix()
	if rel.Value != strconv.FormatInt(wantEpoch, 10) {
		t.Fatalf("dynamic literal = %q, want epoch %d", rel.Value, wantEpoch)
	}
}
