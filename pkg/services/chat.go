package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/audit"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/database"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/formatter"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/llm"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/logging"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/prompts"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/resolver"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/retriever"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/rules"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/session"
	fleetsql "github.com/ekaya-inc/ekaya-fleetql/pkg/sql"
)

// DefaultTopK is how many tables the retriever hands to the SQL prompt.
const DefaultTopK = 5

// ClearedMessage is the reply to a clear request without a question.
const ClearedMessage = "Conversation context cleared."

// ChatService answers one question in a session.
type ChatService interface {
	Ask(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ChatRequest is one user turn.
type ChatRequest struct {
	SessionID    string `json:"session_id"`
	Text         string `json:"user_text"`
	ClearContext bool   `json:"clear_context,omitempty"`
	UserID       string `json:"-"`
}

// ChatResponse is the reply envelope. Error is set only for conditions the
// user cannot recover from by rephrasing.
type ChatResponse struct {
	SessionID string           `json:"session_id"`
	Response  string           `json:"response"`
	SQL       string           `json:"sql,omitempty"`
	Columns   []string         `json:"columns,omitempty"`
	Rows      []map[string]any `json:"rows,omitempty"`
	FollowUp  []string         `json:"follow_up,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// SessionStore hands out serialized access to session contexts.
type SessionStore interface {
	Acquire(ctx context.Context, id string) (*session.Context, func(), error)
	Clear(ctx context.Context, id string) error
}

// ReferenceResolver recognizes follow-ups on earlier results.
type ReferenceResolver interface {
	Resolve(ctx context.Context, query string, sc *session.Context) (*resolver.Resolution, error)
}

// TableRetriever picks the tables a question is about.
type TableRetriever interface {
	Retrieve(ctx context.Context, query string, k int) []retriever.TableRef
}

// PromptBuilder assembles the SQL generation prompt.
type PromptBuilder interface {
	BuildSQLPrompt(in prompts.SQLInput) prompts.Prompt
}

// SQLGenerator asks the model for SQL.
type SQLGenerator interface {
	GenerateSQL(ctx context.Context, p prompts.Prompt) (*llm.Envelope, error)
}

// SQLValidator rewrites and checks generated SQL.
type SQLValidator interface {
	Check(sqlText string) (*fleetsql.Result, error)
}

// QueryExecutor runs validated SQL.
type QueryExecutor interface {
	Execute(ctx context.Context, sql string, opts database.ExecOptions) (*database.QueryResult, error)
}

// AnswerFormatter renders results for the user.
type AnswerFormatter interface {
	Format(ctx context.Context, question string, res *database.QueryResult, opts formatter.Options) (*formatter.Answer, error)
}

// RejectionAuditor records statements the pipeline refused to run.
type RejectionAuditor interface {
	LogRejection(ctx context.Context, r audit.Rejection)
}

// ChatDeps are the pipeline stages. Auditor is optional.
type ChatDeps struct {
	Rules     *rules.RuleSet
	Sessions  SessionStore
	Resolver  ReferenceResolver
	Retriever TableRetriever
	Prompts   PromptBuilder
	Generator SQLGenerator
	Validator SQLValidator
	Executor  QueryExecutor
	Formatter AnswerFormatter
	Auditor   RejectionAuditor
	TopK      int
}

type chatService struct {
	ChatDeps
	logger *zap.Logger
}

// NewChatService wires the pipeline.
func NewChatService(deps ChatDeps, logger *zap.Logger) ChatService {
	if deps.TopK <= 0 {
		deps.TopK = DefaultTopK
	}
	return &chatService{ChatDeps: deps, logger: logger.Named("chat")}
}

// Ask runs one question through the pipeline. User-facing failures come
// back as a response sentence with a nil error; the returned error is only
// the caller's own cancellation.
func (s *chatService) Ask(ctx context.Context, req ChatRequest) (resp *ChatResponse, err error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	text := strings.TrimSpace(req.Text)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered from panic while answering",
				zap.String("session_id", sessionID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			resp = &ChatResponse{
				SessionID: sessionID,
				Response:  apperrors.DefaultMessage(apperrors.KindUnknown),
				Error:     "internal error",
			}
			err = nil
		}
	}()

	if req.ClearContext {
		if err := s.Sessions.Clear(ctx, sessionID); err != nil {
			return s.sessionFailure(ctx, sessionID, err)
		}
		s.logger.Info("Session context cleared", zap.String("session_id", sessionID))
		if text == "" {
			return &ChatResponse{SessionID: sessionID, Response: ClearedMessage}, nil
		}
	}
	if text == "" {
		return s.userFailure(sessionID, apperrors.Wrap(apperrors.KindSyntaxError, "Please type a question.", apperrors.ErrEmptyQuery)), nil
	}

	sc, release, err := s.Sessions.Acquire(ctx, sessionID)
	if err != nil {
		return s.sessionFailure(ctx, sessionID, err)
	}
	defer release()

	resp, err = s.answer(ctx, sessionID, text, req.UserID, sc)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Answered question",
		zap.String("session_id", sessionID),
		zap.Bool("has_sql", resp.SQL != ""),
		zap.Int("rows", len(resp.Rows)),
		zap.Duration("elapsed", time.Since(start)))
	return resp, nil
}

// answer runs with the session held.
func (s *chatService) answer(ctx context.Context, sessionID, text, userID string, sc *session.Context) (*ChatResponse, error) {
	resp := &ChatResponse{SessionID: sessionID}

	res, err := s.Resolver.Resolve(ctx, text, sc)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if apperrors.KindOf(err) == apperrors.KindValidatorRejection {
			s.audit(ctx, sessionID, userID, text, "", err)
			return s.userFailure(sessionID, err), nil
		}
		s.logger.Warn("Reference resolution failed, treating as a new question",
			zap.String("error", logging.SanitizeError(err)))
		res = nil
	}

	var (
		result   *database.QueryResult
		sqlText  string
		note     string
		fromSQL  bool
		followUp []string
	)

	switch {
	case res != nil && res.Result != nil:
		result = res.Result
		note = res.Note
	case res != nil && res.SQL != "":
		sqlText = res.SQL
		note = res.Note
	default:
		var hint *prompts.ReferenceHint
		if res != nil {
			hint = res.Hint
			note = res.Note
		}
		env, err := s.generate(ctx, text, sc, hint)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return s.userFailure(sessionID, err), nil
		}
		if strings.TrimSpace(env.SQL) == "" {
			resp.Response = formatter.Scrub(strings.TrimSpace(env.Response))
			if resp.Response == "" {
				resp.Response = apperrors.DefaultMessage(apperrors.KindLLMMalformed)
			}
			resp.FollowUp = env.FollowUp
			return resp, nil
		}
		sqlText = env.SQL
		followUp = env.FollowUp
	}

	if sqlText != "" {
		checked, err := s.Validator.Check(sqlText)
		if err != nil {
			s.logger.Warn("Generated SQL rejected",
				zap.String("sql", logging.SanitizeQuery(sqlText)),
				zap.String("error", logging.SanitizeError(err)))
			s.audit(ctx, sessionID, userID, text, sqlText, err)
			return s.userFailure(sessionID, err), nil
		}

		validated := checked.SQL
		result, err = s.Executor.Execute(ctx, validated, database.ExecOptions{
			UserID:   userID,
			RealTime: s.Rules.IsRealtimeQuery(text),
			Tables:   checked.Tables,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return s.userFailure(sessionID, err), nil
		}
		sqlText = validated
		fromSQL = true
	}

	ans, err := s.Formatter.Format(ctx, text, result, formatter.Options{
		Truncated: result != nil && len(result.Rows) >= database.MaxRows,
		Note:      note,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return s.userFailure(sessionID, err), nil
	}

	// Frame answers keep the frame they were drawn from on top.
	if fromSQL && result.Failure == nil && !result.Empty() {
		sc.Push(s.frame(text, sqlText, result))
	}

	resp.Response = ans.Text
	resp.SQL = sqlText
	resp.FollowUp = followUp
	if ans.Table != nil && ans.Table.Len() > 0 {
		resp.Columns = ans.Table.Columns
		resp.Rows = ans.Table.Rows
	}
	return resp, nil
}

func (s *chatService) generate(ctx context.Context, text string, sc *session.Context, hint *prompts.ReferenceHint) (*llm.Envelope, error) {
	tables := retriever.Names(s.Retriever.Retrieve(ctx, text, s.TopK))
	p := s.Prompts.BuildSQLPrompt(prompts.SQLInput{
		Question: text,
		Tables:   tables,
		History:  sc.Interactions(prompts.MaxHistory),
		Summary:  sc.Summarize(),
		Hint:     hint,
	})

	s.logger.Debug("Requesting SQL",
		zap.Strings("tables", tables),
		zap.Bool("reference_hint", hint != nil))

	env, err := s.Generator.GenerateSQL(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("generate sql: %w", err)
	}
	return env, nil
}

func (s *chatService) frame(text, sqlText string, result *database.QueryResult) *session.ResultFrame {
	entity := ""
	if et, ok := resolver.InferEntity(s.Rules, result.ColumnNames()); ok {
		entity = et.Name
	}
	topics := session.ExtractTopics(text, s.Rules.Topics)
	return session.NewFrame(text, sqlText, result, entity, s.Rules.IdentifierPriority, topics)
}

func (s *chatService) audit(ctx context.Context, sessionID, userID, text, sqlText string, err error) {
	if s.Auditor == nil {
		return
	}
	s.Auditor.LogRejection(ctx, audit.Rejection{
		SessionID: sessionID,
		UserID:    userID,
		Question:  text,
		SQL:       sqlText,
		Err:       err,
	})
}

// userFailure turns err into a sentence the user can act on.
func (s *chatService) userFailure(sessionID string, err error) *ChatResponse {
	s.logger.Warn("Question could not be answered",
		zap.String("session_id", sessionID),
		zap.String("kind", apperrors.KindOf(err).String()),
		zap.String("error", logging.SanitizeError(err)))
	return &ChatResponse{SessionID: sessionID, Response: apperrors.UserMessage(err)}
}

// sessionFailure handles errors from the session store. A closed store is
// fatal for the request.
func (s *chatService) sessionFailure(ctx context.Context, sessionID string, err error) (*ChatResponse, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.logger.Error("Session unavailable",
		zap.String("session_id", sessionID),
		zap.String("error", logging.SanitizeError(err)))
	msg := "session unavailable"
	if errors.Is(err, apperrors.ErrStoreClosed) {
		msg = "service is shutting down"
	}
	return &ChatResponse{
		SessionID: sessionID,
		Response:  apperrors.DefaultMessage(apperrors.KindUnknown),
		Error:     msg,
	}, nil
}
