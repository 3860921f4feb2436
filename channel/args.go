package channel

import (
	"fmt"
	"math"
	"strconv"

	"github.com/wudi/texkit/render"
)

// ArgumentError reports a required argument that is absent or has the
// wrong type.
type ArgumentError struct {
	Method string
	Field  string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s requires '%s'", e.Method, e.Field)
}

func (e *ArgumentError) Unwrap() error { return render.ErrMissingArgument }

type arguments struct {
	method string
	values map[string]any
}

// renderParams validates the render arguments in declaration order.
func (a arguments) renderParams() (string, render.Params, error) {
	var p render.Params
	id, err := a.string("requestId")
	if err != nil {
		return "", p, err
	}
	if p.Text, err = a.string("text"); err != nil {
		return "", p, err
	}
	if p.DisplayMode, err = a.bool("displayMode"); err != nil {
		return "", p, err
	}
	if p.Color, err = a.string("color"); err != nil {
		return "", p, err
	}
	if p.FontSize, err = a.number("fontSize"); err != nil {
		return "", p, err
	}
	if p.MaxWidth, err = a.number("maxWidth"); err != nil {
		return "", p, err
	}
	return id, p, nil
}

func (a arguments) missing(field string) error {
	return &ArgumentError{Method: a.method, Field: field}
}

func (a arguments) string(field string) (string, error) {
	s, ok := a.values[field].(string)
	if !ok {
		return "", a.missing(field)
	}
	return s, nil
}

func (a arguments) bool(field string) (bool, error) {
	b, ok := a.values[field].(bool)
	if !ok {
		return false, a.missing(field)
	}
	return b, nil
}

// number accepts any numeric value the codecs produce. Strings are
// accepted when they spell a float, which lets JSON hosts pass
// "Infinity" for an unbounded width.
func (a arguments) number(field string) (float64, error) {
	var f float64
	switch v := a.values[field].(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int8:
		f = float64(v)
	case int16:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint:
		f = float64(v)
	case uint8:
		f = float64(v)
	case uint16:
		f = float64(v)
	case uint32:
		f = float64(v)
	case uint64:
		f = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, a.missing(field)
		}
		f = parsed
	default:
		return 0, a.missing(field)
	}
	if math.IsNaN(f) {
		return 0, a.missing(field)
	}
	return f, nil
}
