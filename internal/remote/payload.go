package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/tasksync/internal/models"
)

const (
	StatusSuccess = 200

	DefaultWorksheetPrefix = "worksheet"
)

// UserQuery is one user to ask about, with the deadline that applies to them.
type UserQuery struct {
	SyncID   string
	Deadline int64
}

type Query struct {
	Users     []UserQuery
	ObjectIDs []string
	LastSync  int64
	// IncludeAll asks for every attempt rather than the best one.
	IncludeAll bool
}

type payload struct {
	Users      []string                              `json:"users"`
	Course     string                                `json:"course"`
	ObjectIDs  []string                              `json:"objectids"`
	LastSync   int64                                 `json:"lastsync"`
	IncludeAll bool                                  `json:"includeall"`
	Context    map[string]map[string]deadlineContext `json:"context,omitempty"`
}

type deadlineContext struct {
	Deadline int64  `json:"deadline"`
	Lang     string `json:"lang,omitempty"`
}

func buildPayload(task *models.Task, q Query, worksheetPrefix string) payload {
	p := payload{
		Users:      make([]string, 0, len(q.Users)),
		Course:     task.RemoteCourse,
		ObjectIDs:  q.ObjectIDs,
		LastSync:   q.LastSync,
		IncludeAll: q.IncludeAll,
	}
	if p.ObjectIDs == nil {
		p.ObjectIDs = []string{}
	}
	for _, u := range q.Users {
		p.Users = append(p.Users, u.SyncID)
	}

	if task.Duedate <= 0 {
		return p
	}
	for _, objectID := range q.ObjectIDs {
		if !strings.HasPrefix(objectID, worksheetPrefix) {
			continue
		}
		perUser := make(map[string]deadlineContext, len(q.Users))
		for _, u := range q.Users {
			deadline := u.Deadline
			if deadline == 0 {
				deadline = task.Duedate
			}
			perUser[u.SyncID] = deadlineContext{
				Deadline: deadline * 1000,
				Lang:     task.Language,
			}
		}
		if p.Context == nil {
			p.Context = make(map[string]map[string]deadlineContext)
		}
		p.Context[objectID] = perUser
	}
	return p
}

type statement struct {
	Actor struct {
		Account struct {
			Name string `json:"name"`
		} `json:"account"`
	} `json:"actor"`
	Object struct {
		ID string `json:"id"`
	} `json:"object"`
	Result struct {
		Score struct {
			Raw *float64 `json:"raw"`
		} `json:"score"`
	} `json:"result"`
	Timestamp string `json:"timestamp"`
}

// decodeResponse turns a response body into grade events. soft is true when
// the body is an error envelope, which callers treat as no events.
func decodeResponse(body []byte) (events []models.GradeEvent, soft bool, err error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, false, nil
	}

	var raws []json.RawMessage
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	case '{':
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if status, ok := envelope["status"]; ok {
			if parseStatus(status) != StatusSuccess {
				return nil, true, nil
			}
			delete(envelope, "status")
		}
		for _, value := range envelope {
			value = bytes.TrimSpace(value)
			if len(value) > 0 && value[0] == '[' {
				var nested []json.RawMessage
				if err := json.Unmarshal(value, &nested); err == nil {
					raws = append(raws, nested...)
				}
				continue
			}
			raws = append(raws, value)
		}
	default:
		return nil, false, fmt.Errorf("%w: unexpected body start %q", ErrMalformedResponse, body[0])
	}

	events = make([]models.GradeEvent, 0, len(raws))
	for _, raw := range raws {
		event, ok := parseStatement(raw)
		if ok {
			events = append(events, event)
		}
	}
	return events, false, nil
}

func parseStatus(raw json.RawMessage) int {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return -1
}

func parseStatement(raw json.RawMessage) (models.GradeEvent, bool) {
	var st statement
	if err := json.Unmarshal(raw, &st); err != nil {
		return models.GradeEvent{}, false
	}
	if st.Actor.Account.Name == "" || st.Result.Score.Raw == nil {
		return models.GradeEvent{}, false
	}
	score := *st.Result.Score.Raw
	if score < 0 || score > 1 {
		logger.Debug.Printf("Dropping statement of %s with raw score %v", st.Actor.Account.Name, score)
		return models.GradeEvent{}, false
	}
	ts, err := parseTimestamp(st.Timestamp)
	if err != nil {
		logger.Debug.Printf("Dropping statement of %s: %v", st.Actor.Account.Name, err)
		return models.GradeEvent{}, false
	}
	return models.GradeEvent{
		SyncID:    st.Actor.Account.Name,
		ObjectID:  st.Object.ID,
		Raw:       score,
		Timestamp: ts,
	}, true
}

func parseTimestamp(value string) (int64, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.Unix(), nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", value, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("bad timestamp %q", value)
	}
	return t.Unix(), nil
}
