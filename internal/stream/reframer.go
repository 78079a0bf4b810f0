// Package stream re-frames an upstream server-sent-event stream into the
// client chunk format, one unit at a time.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tidwall/gjson"

	"hf-gateway/internal/models"
	"hf-gateway/internal/translator"
)

// State is the lifecycle position of a Reframer.
type State int

const (
	AwaitingFirstChunk State = iota
	Streaming
	Terminated
)

func (s State) String() string {
	switch s {
	case AwaitingFirstChunk:
		return "awaiting_first_chunk"
	case Streaming:
		return "streaming"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrUnexpectedClose reports an upstream that closed the connection
	// before sending a finish reason or the end sentinel.
	ErrUnexpectedClose = errors.New("upstream closed stream before completion")

	errNotObject = errors.New("payload is not a JSON object")
	errNoChoices = errors.New("payload carries neither choices nor usage")
)

// UpstreamEventError is an error object the upstream sent in-band on the
// stream instead of a chunk.
type UpstreamEventError struct {
	Message string
	Type    string
	Code    string
}

func (e *UpstreamEventError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("upstream stream error (%s): %s", e.Type, e.Message)
	}
	return "upstream stream error: " + e.Message
}

// Reporter receives the signals that do not become client output.
type Reporter interface {
	// UnitSkipped is called for a unit that did not parse as a chunk.
	UnitSkipped(streamID string, data []byte, err error)
	// UnitDiscarded is called for a unit that arrived after termination.
	UnitDiscarded(streamID string, ev Event)
	// StreamFailed is called once when the stream ends abnormally.
	StreamFailed(streamID string, err error)
}

// Options configures a Reframer for a single stream.
type Options struct {
	// Model is echoed in every chunk. Empty means use the model the upstream
	// reports, or UpstreamModel when no chunk carried one.
	Model         string
	UpstreamModel string
	// Reasoning enables the "</think>" split of content deltas.
	Reasoning bool
	Reporter  Reporter
	// NewID and Now default to translator.NewResponseID and time.Now.
	NewID func() string
	Now   func() time.Time
}

// Reframer is the per-stream state machine
// AwaitingFirstChunk -> Streaming -> Terminated. It is not safe for
// concurrent use; one stream is driven by one goroutine.
type Reframer struct {
	opts      Options
	state     State
	id        string
	created   int64
	model     string
	finished  map[int]bool
	roleSent  map[int]bool
	splitters map[int]*translator.ReasoningSplitter
}

// NewReframer returns a Reframer in the AwaitingFirstChunk state.
func NewReframer(opts Options) *Reframer {
	if opts.NewID == nil {
		opts.NewID = translator.NewResponseID
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Reporter == nil {
		opts.Reporter = nopReporter{}
	}
	return &Reframer{
		opts:      opts,
		roleSent:  make(map[int]bool),
		finished:  make(map[int]bool),
		splitters: make(map[int]*translator.ReasoningSplitter),
	}
}

// State returns the current state.
func (r *Reframer) State() State { return r.state }

// ID returns the stream id, or "" before the first chunk.
func (r *Reframer) ID() string { return r.id }

// Process consumes one upstream unit and returns the client frames it
// produces: none for a skipped or discarded unit, one chunk for a data
// unit, the terminator for the sentinel, and chunk plus terminator for an
// in-band upstream error.
func (r *Reframer) Process(ev Event) []Frame {
	if r.state == Terminated {
		r.opts.Reporter.UnitDiscarded(r.id, ev)
		return nil
	}

	if ev.Kind == EventDone {
		r.state = Terminated
		return []Frame{DoneFrame}
	}

	if evErr := eventError(ev.Data); evErr != nil {
		return r.Fail(evErr)
	}

	if !gjson.ValidBytes(ev.Data) || !gjson.ParseBytes(ev.Data).IsObject() {
		r.opts.Reporter.UnitSkipped(r.id, ev.Data, errNotObject)
		return nil
	}
	var up models.UpstreamStreamChunk
	if err := json.Unmarshal(ev.Data, &up); err != nil {
		r.opts.Reporter.UnitSkipped(r.id, ev.Data, err)
		return nil
	}
	if len(up.Choices) == 0 && up.Usage == nil {
		r.opts.Reporter.UnitSkipped(r.id, ev.Data, errNoChoices)
		return nil
	}

	r.establish(up.ID, up.Created, up.Model)
	r.state = Streaming
	chunk := r.convert(up)
	return []Frame{{Chunk: &chunk}}
}

// Fail terminates the stream abnormally: a final chunk giving every
// unfinished choice the error finish reason, followed by the terminator.
// If every choice already has a finish reason only the terminator is
// emitted.
func (r *Reframer) Fail(err error) []Frame {
	if r.state == Terminated {
		return nil
	}
	r.establish("", 0, "")
	r.opts.Reporter.StreamFailed(r.id, err)
	r.state = Terminated

	open := r.unfinished()
	if len(open) == 0 {
		return []Frame{DoneFrame}
	}
	choices := make([]models.StreamChoice, 0, len(open))
	for _, index := range open {
		reason := models.FinishError
		choices = append(choices, models.StreamChoice{Index: index, FinishReason: &reason})
	}
	chunk := r.newChunk(choices, nil)
	return []Frame{{Chunk: &chunk}, DoneFrame}
}

// unfinished lists the choice indexes still lacking a finish reason, in
// ascending order. Before any choice was seen it is just index 0.
func (r *Reframer) unfinished() []int {
	if len(r.roleSent) == 0 {
		return []int{0}
	}
	var open []int
	for index := range r.roleSent {
		if !r.finished[index] {
			open = append(open, index)
		}
	}
	sort.Ints(open)
	return open
}

// Finish handles an upstream connection close. A stream that already
// delivered a finish reason is terminated normally, anything else is
// treated as a connection drop.
func (r *Reframer) Finish() []Frame {
	if r.state == Terminated {
		return nil
	}
	if len(r.unfinished()) == 0 {
		r.state = Terminated
		return []Frame{DoneFrame}
	}
	return r.Fail(ErrUnexpectedClose)
}

func (r *Reframer) establish(id string, created int64, model string) {
	if r.id != "" {
		return
	}
	r.id = id
	if r.id == "" {
		r.id = r.opts.NewID()
	}
	r.created = created
	if r.created == 0 {
		r.created = r.opts.Now().Unix()
	}
	r.model = r.opts.Model
	if r.model == "" {
		r.model = model
	}
	if r.model == "" {
		r.model = r.opts.UpstreamModel
	}
}

func (r *Reframer) convert(up models.UpstreamStreamChunk) models.ClientStreamChunk {
	choices := make([]models.StreamChoice, 0, len(up.Choices))
	for _, c := range up.Choices {
		var delta models.Delta

		delta.Role = models.Role(c.Delta.Role)
		if delta.Role == "" && !r.roleSent[c.Index] {
			delta.Role = models.RoleAssistant
		}
		r.roleSent[c.Index] = true

		// An upstream that separates reasoning itself never needs the tag split.
		var upstreamReasoning *string
		if c.Delta.ReasoningContent != nil {
			upstreamReasoning = c.Delta.ReasoningContent
		} else if c.Delta.Reasoning != nil {
			upstreamReasoning = c.Delta.Reasoning
		}
		if upstreamReasoning != nil && r.opts.Reasoning {
			r.splitter(c.Index).Stop()
		}

		if c.Delta.Content != nil {
			delta.Content = *c.Delta.Content
			if r.opts.Reasoning {
				delta.Reasoning, delta.Content = r.splitter(c.Index).Split(delta.Content)
			}
		}
		if upstreamReasoning != nil {
			delta.Reasoning += *upstreamReasoning
		}

		var finish *models.FinishReason
		if c.FinishReason != nil && *c.FinishReason != "" {
			mapped := translator.MapFinishReason(*c.FinishReason)
			finish = &mapped
			r.finished[c.Index] = true
		}

		choices = append(choices, models.StreamChoice{
			Index:        c.Index,
			Delta:        delta,
			FinishReason: finish,
		})
	}

	var usage *models.Usage
	if up.Usage != nil {
		u := *up.Usage
		usage = &u
	}
	return r.newChunk(choices, usage)
}

func (r *Reframer) splitter(index int) *translator.ReasoningSplitter {
	s, ok := r.splitters[index]
	if !ok {
		s = &translator.ReasoningSplitter{}
		r.splitters[index] = s
	}
	return s
}

func (r *Reframer) newChunk(choices []models.StreamChoice, usage *models.Usage) models.ClientStreamChunk {
	return models.ClientStreamChunk{
		ID:      r.id,
		Object:  models.ObjectChatCompletionChunk,
		Created: r.created,
		Model:   r.model,
		Choices: choices,
		Usage:   usage,
	}
}

// eventError extracts an in-band {"error": ...} object, if any.
func eventError(data []byte) *UpstreamEventError {
	if !gjson.ValidBytes(data) {
		return nil
	}
	res := gjson.GetBytes(data, "error")
	switch {
	case !res.Exists() || res.Type == gjson.Null:
		return nil
	case res.IsObject():
		return &UpstreamEventError{
			Message: res.Get("message").String(),
			Type:    res.Get("type").String(),
			Code:    res.Get("code").String(),
		}
	default:
		return &UpstreamEventError{Message: res.String()}
	}
}

type nopReporter struct{}

func (nopReporter) UnitSkipped(string, []byte, error) {}
func (nopReporter) UnitDiscarded(string, Event) {}
func (nopReporter) StreamFailed(string, error) {}
