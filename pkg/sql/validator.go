// Package sql validates and rewrites model-generated SQL before it reaches
// the database: banned names are substituted, mandated conversions and
// value-domain literals are enforced, every relation and column is checked
// against the catalog, and only bounded read-only SELECTs get through.
package sql

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/catalog"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/logging"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/rules"
)

// MaxLimit is the largest row count any statement may return.
const MaxLimit = 50

// Schema is the part of the catalog the validator consults.
type Schema interface {
	Resolve(name string) (string, bool)
	HasColumn(table, column string) bool
	Columns(table string) []catalog.Column
	Type(columnPath string) (catalog.DataType, bool)
}

// User-facing rejection messages. They never name tables or columns.
const (
	msgRephrase      = "I couldn't match that question to the available data. Could you rephrase it?"
	msgOneQuestion   = "Please ask one question at a time."
	msgReadOnly      = "I can only look up information, not change it."
	msgTextAggregate = "I can't total or average that field because it isn't stored as a number."
)

// Result is a validated statement.
type Result struct {
	SQL string
	// Tables are the catalog tables the statement reads.
	Tables []string
	// Applied names the rewrite steps that changed the statement.
	Applied []string
}

type step struct {
	name string
	run  func(sqlText string) (string, error)
}

// Validator applies the ordered rewrite and check steps. It is safe for
// concurrent use.
type Validator struct {
	schema Schema
	rules  *rules.RuleSet
	logger *zap.Logger
	steps  []step
}

// NewValidator creates a validator over schema and rs.
func NewValidator(schema Schema, rs *rules.RuleSet, logger *zap.Logger) *Validator {
	v := &Validator{
		schema: schema,
		rules:  rs,
		logger: logger.Named("sql_validator"),
	}
	v.steps = []step{
		{"normalize", v.normalize},
		{"write_guard", v.guardWrites},
		{"banned_tables", v.substitute(rs.BannedTables)},
		{"legacy_tables", v.substitute(rs.LegacyTables)},
		{"conversions", v.enforceConversions},
		{"value_domains", v.mapValueDomains},
		{"flexible_names", v.relaxFlexibleNames},
		{"aggregates", v.checkAggregates},
		{"existence", v.checkExistence},
		{"limit", v.enforceLimit},
	}
	return v
}

// Validate returns the rewritten statement or a KindValidatorRejection error.
// Validate(Validate(x)) == Validate(x).
func (v *Validator) Validate(sqlText string) (string, error) {
	res, err := v.Check(sqlText)
	if err != nil {
		return "", err
	}
	return res.SQL, nil
}

// Check is Validate with details about what changed.
func (v *Validator) Check(sqlText string) (*Result, error) {
	res := &Result{SQL: sqlText}
	for _, s := range v.steps {
		out, err := s.run(res.SQL)
		if err != nil {
			v.logger.Info("SQL rejected",
				zap.String("step", s.name),
				zap.String("sql", logging.SanitizeQuery(sqlText)),
				zap.Error(err))
			return nil, err
		}
		if out != res.SQL {
			res.Applied = append(res.Applied, s.name)
			v.logger.Debug("SQL rewritten",
				zap.String("step", s.name),
				zap.String("sql", logging.SanitizeQuery(out)))
		}
		res.SQL = out
	}
	res.Tables = parse(res.SQL, v.schema).tables()
	return res, nil
}

func reject(userMsg, format string, args ...any) error {
	return apperrors.Wrap(apperrors.KindValidatorRejection, userMsg, fmt.Errorf(format, args...))
}

// rejectWrite is reject for statements that would change data.
func rejectWrite(format string, args ...any) error {
	return apperrors.Wrap(apperrors.KindValidatorRejection, msgReadOnly,
		fmt.Errorf("%w: "+format, append([]any{ErrWriteAttempt}, args...)...))
}

func (v *Validator) normalize(sqlText string) (string, error) {
	out, err := Normalize(sqlText)
	switch {
	case errors.Is(err, ErrMultipleStatements):
		return "", apperrors.Wrap(apperrors.KindValidatorRejection, msgOneQuestion, err)
	case err != nil:
		return "", apperrors.Wrap(apperrors.KindValidatorRejection, "", err)
	}
	return out, nil
}
