package stream

import (
	"encoding/json"
	"fmt"

	"tradelab/internal/domain"
)

// EventType tags a stream event.
type EventType string

const (
	EventStart    EventType = "start"
	EventResult   EventType = "result"
	EventProgress EventType = "progress"
	EventError    EventType = "error"
	EventComplete EventType = "complete"
)

// Event is one message of a batch stream. Exactly one payload field, the one
// matching Type, is set.
type Event struct {
	Type     EventType
	Start    *Start
	Result   *domain.BacktestResult
	Progress *Progress
	Error    *Failure
	Complete *Complete
}

// Start opens a stream.
type Start struct {
	Total      int    `json:"total"`
	StrategyID string `json:"strategy_id"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
}

// Progress follows every result or error.
type Progress struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
}

// Failure reports one instrument that could not be backtested.
type Failure struct {
	InstrumentID string `json:"instrument_id"`
	Error        string `json:"error"`
}

// Complete closes a stream.
type Complete struct {
	Summary        Summary `json:"summary"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// Performer names an instrument and its total return.
type Performer struct {
	InstrumentID   string  `json:"instrument_id"`
	TotalReturnPct float64 `json:"total_return_pct"`
}

// Summary aggregates the successful results of a batch.
type Summary struct {
	AvgReturn   float64    `json:"avg_return"`
	Best        *Performer `json:"best"`
	Worst       *Performer `json:"worst"`
	TotalTrades int        `json:"total_trades"`
	Successful  int        `json:"successful"`
	Failed      int        `json:"failed"`
	Total       int        `json:"total"`
}

type typeTag struct {
	Type EventType `json:"type"`
}

// MarshalJSON renders the event as a flat object tagged by "type".
func (e Event) MarshalJSON() ([]byte, error) {
	tag := typeTag{Type: e.Type}
	switch e.Type {
	case EventStart:
		return json.Marshal(struct {
			typeTag
			*Start
		}{tag, orZero(e.Start)})
	case EventResult:
		return json.Marshal(struct {
			typeTag
			Data *domain.BacktestResult `json:"data"`
		}{tag, e.Result})
	case EventProgress:
		return json.Marshal(struct {
			typeTag
			*Progress
		}{tag, orZero(e.Progress)})
	case EventError:
		return json.Marshal(struct {
			typeTag
			*Failure
		}{tag, orZero(e.Error)})
	case EventComplete:
		return json.Marshal(struct {
			typeTag
			*Complete
		}{tag, orZero(e.Complete)})
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var tag typeTag
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	*e = Event{Type: tag.Type}
	switch tag.Type {
	case EventStart:
		e.Start = new(Start)
		return json.Unmarshal(data, e.Start)
	case EventResult:
		var v struct {
			Data *domain.BacktestResult `json:"data"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		e.Result = v.Data
		return nil
	case EventProgress:
		e.Progress = new(Progress)
		return json.Unmarshal(data, e.Progress)
	case EventError:
		e.Error = new(Failure)
		return json.Unmarshal(data, e.Error)
	case EventComplete:
		e.Complete = new(Complete)
		return json.Unmarshal(data, e.Complete)
	default:
		return fmt.Errorf("unknown event type %q", tag.Type)
	}
}

func orZero[T any](p *T) *T {
	if p == nil {
		return new(T)
	}
	return p
}
