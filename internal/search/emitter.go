package search

import (
	"fmt"
	"strings"

	"contentdir/internal/cds"
)

// Compile walks ast and produces a parameterized SQL predicate plus its
// bind arguments, suitable for cds.SearchExpr. Values are always bound as
// placeholders — the spec's emission table (§4.7.2) inlines literals for
// illustration, but inlining untrusted search text into SQL is a classic
// injection hole, so Compile never does it; see RenderLiteral for the
// illustrative form.
func Compile(ast Expr, mapper ColumnMapper) (cds.SearchExpr, error) {
	e := &emitter{mapper: mapper}
	sql, err := e.emit(ast)
	if err != nil {
		return cds.SearchExpr{}, err
	}
	return cds.SearchExpr{SQL: sql, Args: e.args}, nil
}

type emitter struct {
	mapper ColumnMapper
	args   []any
}

func (e *emitter) emit(expr Expr) (string, error) {
	switch n := expr.(type) {
	case *AndExpr:
		left, err := e.emit(n.Left)
		if err != nil {
			return "", err
		}
		right, err := e.emit(n.Right)
		if err != nil {
			return "", err
		}
		return left + " AND " + right, nil

	case *OrExpr:
		left, err := e.emit(n.Left)
		if err != nil {
			return "", err
		}
		right, err := e.emit(n.Right)
		if err != nil {
			return "", err
		}
		return left + " OR " + right, nil

	case *ParenExpr:
		inner, err := e.emit(n.Inner)
		if err != nil {
			return "", err
		}
		return "(" + inner + ")", nil

	case *RelExpr:
		return e.emitRel(n)

	default:
		return "", fmt.Errorf("search: unknown AST node %T", expr)
	}
}

func (e *emitter) emitRel(r *RelExpr) (string, error) {
	family, column := e.mapper.Map(r.Property)

	switch family {
	case FamilyClass:
		return e.emitClass(r, column)
	case FamilyAttribute:
		return e.emitAttribute(r, column)
	default:
		return e.emitMetadata(r)
	}
}

func (e *emitter) emitClass(r *RelExpr, column string) (string, error) {
	switch r.Kind {
	case RelString:
		switch r.Op {
		case "derivedfrom":
			e.args = append(e.args, r.Value+"%")
			return fmt.Sprintf("LOWER(%s) LIKE LOWER(?)", column), nil
		case "contains":
			e.args = append(e.args, "%"+r.Value+"%")
			return fmt.Sprintf("LOWER(%s) LIKE LOWER(?)", column), nil
		case "doesnotcontain":
			e.args = append(e.args, "%"+r.Value+"%")
			return fmt.Sprintf("LOWER(%s) NOT LIKE LOWER(?)", column), nil
		case "startswith":
			e.args = append(e.args, r.Value+"%")
			return fmt.Sprintf("LOWER(%s) LIKE LOWER(?)", column), nil
		}
	case RelCompare:
		e.args = append(e.args, r.Value)
		return fmt.Sprintf("LOWER(%s) %s LOWER(?)", column, sqlCompareOp(r.Op)), nil
	case RelExists:
		if r.BoolVal {
			return fmt.Sprintf("%s IS NOT NULL AND %s != ''", column, column), nil
		}
		return fmt.Sprintf("(%s IS NULL OR %s = '')", column, column), nil
	}
	return "", &cds.ParseError{Msg: "unsupported operator on class property: " + r.Op}
}

func (e *emitter) emitAttribute(r *RelExpr, column string) (string, error) {
	switch r.Kind {
	case RelCompare:
		e.args = append(e.args, r.Value)
		return fmt.Sprintf("%s %s ?", column, sqlCompareOp(r.Op)), nil
	case RelExists:
		if r.BoolVal {
			return fmt.Sprintf("%s IS NOT NULL", column), nil
		}
		return fmt.Sprintf("%s IS NULL", column), nil
	default:
		return "", &cds.ParseError{Msg: "string operators are not supported on attribute property"}
	}
}

func (e *emitter) emitMetadata(r *RelExpr) (string, error) {
	switch r.Kind {
	case RelCompare:
		e.args = append(e.args, r.Property, r.Value)
		return fmt.Sprintf("EXISTS (SELECT 1 FROM object_metadata m WHERE m.object_id = id AND m.key = ? AND LOWER(m.value) %s LOWER(?))",
			sqlCompareOp(r.Op)), nil

	case RelString:
		var pattern string
		switch r.Op {
		case "contains":
			pattern = "%" + r.Value + "%"
		case "doesnotcontain":
			e.args = append(e.args, r.Property, "%"+r.Value+"%")
			return "NOT EXISTS (SELECT 1 FROM object_metadata m WHERE m.object_id = id AND m.key = ? AND LOWER(m.value) LIKE LOWER(?))", nil
		case "startswith":
			pattern = r.Value + "%"
		default:
			return "", &cds.ParseError{Msg: "unsupported string operator: " + r.Op}
		}
		e.args = append(e.args, r.Property, pattern)
		return "EXISTS (SELECT 1 FROM object_metadata m WHERE m.object_id = id AND m.key = ? AND LOWER(m.value) LIKE LOWER(?))", nil

	case RelExists:
		e.args = append(e.args, r.Property)
		if r.BoolVal {
			return "EXISTS (SELECT 1 FROM object_metadata m WHERE m.object_id = id AND m.key = ? AND m.value IS NOT NULL)", nil
		}
		return "NOT EXISTS (SELECT 1 FROM object_metadata m WHERE m.object_id = id AND m.key = ? AND m.value IS NOT NULL)", nil
	}
	return "", &cds.ParseError{Msg: "unknown relation kind"}
}

func sqlCompareOp(op string) string {
	if op == "!=" {
		return "!="
	}
	return op
}

// RenderLiteral renders ast the way spec §4.7.2's emission table illustrates
// it, with values inlined rather than bound — used by the grounding
// scenarios in search_test.go, never for anything actually sent to the
// database.
func RenderLiteral(expr Expr) string {
	switch n := expr.(type) {
	case *AndExpr:
		return RenderLiteral(n.Left) + " AND " + RenderLiteral(n.Right)
	case *OrExpr:
		return RenderLiteral(n.Left) + " OR " + RenderLiteral(n.Right)
	case *ParenExpr:
		return "(" + RenderLiteral(n.Inner) + ")"
	case *RelExpr:
		return renderRelLiteral(n)
	default:
		return ""
	}
}

func renderRelLiteral(r *RelExpr) string {
	if strings.EqualFold(r.Property, "upnp:class") && r.Op == "derivedfrom" {
		return fmt.Sprintf("(LOWER(class) LIKE LOWER('%s%%'))", r.Value)
	}
	switch r.Kind {
	case RelCompare:
		return fmt.Sprintf("(name='%s' AND LOWER(value)%sLOWER('%s'))", r.Property, r.Op, r.Value)
	case RelString:
		switch r.Op {
		case "contains":
			return fmt.Sprintf("(name='%s' AND LOWER(value) LIKE LOWER('%%%s%%'))", r.Property, r.Value)
		case "doesnotcontain":
			return fmt.Sprintf("(name='%s' AND LOWER(value) NOT LIKE LOWER('%%%s%%'))", r.Property, r.Value)
		case "startswith":
			return fmt.Sprintf("(name='%s' AND LOWER(value) LIKE LOWER('%s%%'))", r.Property, r.Value)
		}
	case RelExists:
		if r.BoolVal {
			return fmt.Sprintf("(name='%s' AND value IS NOT NULL)", r.Property)
		}
		return fmt.Sprintf("(name='%s' AND value IS NULL)", r.Property)
	}
	return ""
}
