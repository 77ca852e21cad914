package llm

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/jsonutil"
)

// Envelope is the SQL generation reply: {schema, sql, response, follow_up}.
// An empty SQL means the model could not answer from the schema; Response
// then explains why.
type Envelope struct {
	Schema   string   `json:"schema"`
	SQL      string   `json:"sql"`
	Response string   `json:"response"`
	FollowUp []string `json:"follow_up,omitempty"`
}

// stringList accepts a JSON string, a list of strings or null.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	items, err := jsonutil.Strings(data)
	if err != nil {
		return err
	}
	*l = items
	return nil
}

type rawEnvelope struct {
	Schema   *stringList `json:"schema"`
	SQL      *string     `json:"sql"`
	Response *string     `json:"response"`
	FollowUp *stringList `json:"follow_up"`
}

// ParseEnvelope extracts the envelope from a model reply. The sql and
// response keys are required; unknown keys are ignored. Any failure is
// KindLLMMalformed.
func ParseEnvelope(text string) (*Envelope, error) {
	raw, err := ParseJSONResponse[rawEnvelope](text)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindLLMMalformed, "", err)
	}
	if raw.SQL == nil || raw.Response == nil {
		return nil, apperrors.Wrap(apperrors.KindLLMMalformed, "",
			fmt.Errorf("envelope is missing sql or response"))
	}

	env := &Envelope{
		SQL:      stripFence(*raw.SQL),
		Response: strings.TrimSpace(*raw.Response),
	}
	if raw.Schema != nil {
		env.Schema = strings.Join(*raw.Schema, ", ")
	}
	if raw.FollowUp != nil {
		env.FollowUp = *raw.FollowUp
	}
	return env, nil
}

// stripFence removes a ```sql fence some models put inside the JSON string.
func stripFence(sql string) string {
	s := strings.TrimSpace(sql)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], " \t") {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
