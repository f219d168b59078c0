package automata

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

func basicLitToValue(t *ast.BasicLit) reflect.Value {
	var i interface{}
	switch t.Kind {
	case token.STRING:
		i = strings.Trim(t.Value, "\"")
	case token.INT:
		i, _ = strconv.ParseInt(t.Value, 10, 64)
	case token.FLOAT:
		i, _ = strconv.ParseFloat(t.Value, 64)
	}
	return reflect.ValueOf(i)
}

// DynamicCall dispatches an action written as a call expression, eg.
// Switch("light.hall", true), to the method of that name on obj.
func DynamicCall(obj interface{}, call string) (err error) {
	expr, _ := parser.ParseExpr(call)
	ce, ok := expr.(*ast.CallExpr)
	if !ok {
		return errors.Errorf("action %q is not a call", call)
	}

	instance := reflect.ValueOf(obj)
	name := fmt.Sprint(ce.Fun)
	method := instance.MethodByName(name)
	if !method.IsValid() {
		return errors.Errorf("action %s not found", name)
	}

	var args []reflect.Value
	for _, expr := range ce.Args {
		switch t := expr.(type) {
		case *ast.BasicLit:
			args = append(args, basicLitToValue(t))
		case *ast.Ident:
			switch t.Name {
			case "true":
				args = append(args, reflect.ValueOf(true))
			case "false":
				args = append(args, reflect.ValueOf(false))
			default:
				return errors.Errorf("argument %s not understood", t.Name)
			}
		default:
			return errors.Errorf("argument %v not understood", t)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("error calling %s: %s", call, r)
		}
	}()
	method.Call(args)
	return
}

var reSub = regexp.MustCompile(`\$(\w+)`)

// Substitute replaces $var placeholders from vals.
func Substitute(s string, vals map[string]string) string {
	return reSub.ReplaceAllStringFunc(s, func(k string) string {
		if v, ok := vals[k[1:]]; ok {
			return v
		}
		return k
	})
}
