package processor

import (
	"fmt"
	"math"
	"strings"

	goeval "github.com/edisonguo/govaluate"
)

// KcbModel maps an NDVI value to a basal crop coefficient.
type KcbModel interface {
	Kcb(ndvi float64) (float64, error)
}

// LinearKcb is kcb = M*ndvi + N.
type LinearKcb struct {
	M float64
	N float64
}

func (l LinearKcb) Kcb(ndvi float64) (float64, error) {
	return l.M*ndvi + l.N, nil
}

// ExpressionKcb evaluates a user expression over the variables ndvi,
// kcbM and kcbN. It is not safe for concurrent use.
type ExpressionKcb struct {
	expr   *goeval.EvaluableExpression
	source string
	params map[string]interface{}
}

var kcbVariables = map[string]struct{}{"ndvi": {}, "kcbM": {}, "kcbN": {}}

func NewExpressionKcb(expression string, m, n float64) (*ExpressionKcb, error) {
	if len(strings.TrimSpace(expression)) == 0 {
		return nil, fmt.Errorf("%w: empty kcb expression", ErrInvalidParams)
	}

	expr, err := goeval.NewEvaluableExpression(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: kcb expression %q: %v", ErrInvalidParams, expression, err)
	}

	for _, token := range expr.Tokens() {
		if token.Kind != goeval.VARIABLE {
			continue
		}
		varName, ok := token.Value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: variable token '%v' failed to cast string", ErrInvalidParams, token.Value)
		}
		if _, found := kcbVariables[varName]; !found {
			return nil, fmt.Errorf("%w: variable %v is not supported, valid variables are ndvi, kcbM and kcbN", ErrInvalidParams, varName)
		}
	}

	return &ExpressionKcb{
		expr:   expr,
		source: expression,
		params: map[string]interface{}{"kcbM": m, "kcbN": n},
	}, nil
}

func (e *ExpressionKcb) Kcb(ndvi float64) (float64, error) {
	e.params["ndvi"] = ndvi
	res, err := e.expr.Evaluate(e.params)
	if err != nil {
		return 0, fmt.Errorf("kcb expression %q: %v", e.source, err)
	}
	v, ok := res.(float64)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("kcb expression %q: result %v is not a finite number", e.source, res)
	}
	return v, nil
}

func (e *ExpressionKcb) String() string {
	return e.source
}
