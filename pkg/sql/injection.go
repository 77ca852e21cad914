package sql

import (
	"fmt"

	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult contains the result of an injection check on a value.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	Name        string // What the value is for, e.g. "category"
	Value       string
}

// CheckLiteral uses libinjection to detect SQL injection patterns in a user
// phrase before it is spliced into a statement as a literal.
//
// Returns nil if the value is clean.
func CheckLiteral(name, value string) *InjectionCheckResult {
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		IsSQLi:      true,
		Fingerprint: string(fingerprint),
		Name:        name,
		Value:       value,
	}
}

func (r *InjectionCheckResult) Error() string {
	return fmt.Sprintf("possible SQL injection in %s (fingerprint %s)", r.Name, r.Fingerprint)
}

// QuoteLiteral renders s as a single-quoted SQL string literal, or returns
// an error when s looks like an injection attempt.
func QuoteLiteral(name, s string) (string, error) {
	if res := CheckLiteral(name, s); res != nil {
		return "", res
	}
	return quoteLiteral(s), nil
}
