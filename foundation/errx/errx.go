// Package errx classifies errors crossing the certificate / session
// boundaries into the kinds callers branch on: import, parse, validation,
// configuration. Transport errors are deliberately not wrapped here.
package errx

import (
	"errors"
	"fmt"
	"strings"
)

// Kind sentinels. errors.Is(err, KindImport) reports whether err carries
// that classification anywhere in its chain.
var (
	KindImport        = errors.New("import error")
	KindParse         = errors.New("parse error")
	KindValidation    = errors.New("validation error")
	KindConfiguration = errors.New("configuration error")
)

func Import(base error, msg string) error {
	return wrap(KindImport, base, msg)
}

func Parse(base error, msg string) error {
	return wrap(KindParse, base, msg)
}

func Validation(base error, msg string) error {
	return wrap(KindValidation, base, msg)
}

func Configuration(base error, msg string) error {
	return wrap(KindConfiguration, base, msg)
}

type kindError struct {
	kind error
	err  error
	msg  string
}

func (e *kindError) Error() string {
	switch {
	case e.err == nil && e.msg == "":
		return e.kind.Error()
	case e.err == nil:
		return fmt.Sprintf("%s: %s", e.kind.Error(), e.msg)
	case e.msg == "":
		return fmt.Sprintf("%s: %s", e.kind.Error(), e.err.Error())
	default:
		return fmt.Sprintf("%s: %s: %s", e.kind.Error(), e.msg, e.err.Error())
	}
}

func (e *kindError) Unwrap() []error {
	if e.err == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.err}
}

func wrap(kind, base error, msg string) error {
	return &kindError{kind: kind, err: base, msg: strings.TrimSpace(msg)}
}
