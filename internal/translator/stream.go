package translator

import (
	"encoding/json"
	"strings"

	"claude-bridge/internal/models"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

type streamPhase int

const (
	phaseAwaitingFirst streamPhase = iota
	phaseStreaming
	phaseDraining
	phaseClosed
)

// maxConsecutiveMalformed is how many unparseable chunks in a row are
// tolerated before the stream is aborted.
const maxConsecutiveMalformed = 3

type blockKind int

const (
	blockText blockKind = iota
	blockToolUse
)

type blockState struct {
	kind     blockKind
	toolID   string
	toolName string
	args     strings.Builder
}

// StreamTranslator converts a chat.completions chunk stream into the
// Messages API event envelope: message_start, then complete
// content_block_start/delta/stop triples with strictly increasing
// indices, then message_delta and message_stop. At most one block is
// open at any time.
//
// An instance is owned by the single goroutine handling one response
// and must not be shared or reused.
type StreamTranslator struct {
	messageID string
	model     string
	counter   TokenCounter
	log       *zap.Logger

	phase     streamPhase
	blocks    []*blockState
	openIndex int
	toolIndex map[int64]int // upstream tool_call index -> block index

	textAccum     strings.Builder
	inputTokens   int
	outputTokens  int
	usageSeen     bool
	fallbackInput int
	malformed     int
}

// NewStreamTranslator builds a translator for one streaming response.
// messageID and model are fixed into the message_start event.
func NewStreamTranslator(messageID, model string, counter TokenCounter, log *zap.Logger) *StreamTranslator {
	if log == nil {
		log = zap.NewNop()
	}
	return &StreamTranslator{
		messageID: messageID,
		model:     model,
		counter:   counter,
		log:       log,
		openIndex: -1,
		toolIndex: make(map[int64]int),
	}
}

// SetInputTokenFallback seeds input_tokens for the final usage report
// when the backend never sends usage numbers.
func (t *StreamTranslator) SetInputTokenFallback(n int) {
	t.fallbackInput = n
}

// Feed consumes one upstream data payload and returns the events it
// produces, in emission order. A non-nil error is ErrStreamAborted; the
// returned events still end with a valid close sequence and must be
// flushed before the caller stops reading upstream.
func (t *StreamTranslator) Feed(raw []byte) ([]models.ClaudeStreamEvent, error) {
	if t.phase == phaseClosed {
		return nil, nil
	}
	if !gjson.ValidBytes(raw) {
		t.malformed++
		t.log.Warn("skipping malformed upstream chunk", zap.Int("consecutive", t.malformed))
		if t.malformed >= maxConsecutiveMalformed {
			return t.Finish(), ErrStreamAborted
		}
		return nil, nil
	}
	t.malformed = 0

	var events []models.ClaudeStreamEvent
	if t.phase == phaseAwaitingFirst {
		events = append(events, t.messageStart())
		t.phase = phaseStreaming
	}

	chunk := gjson.ParseBytes(raw)
	if u := chunk.Get("usage"); u.IsObject() {
		t.inputTokens = int(u.Get("prompt_tokens").Int())
		t.outputTokens = int(u.Get("completion_tokens").Int())
		t.usageSeen = true
	}

	choice := chunk.Get("choices.0")
	delta := choice.Get("delta")

	// Zero-length fragments are swallowed; the role marker needs no
	// handling of its own.
	if content := delta.Get("content"); content.Type == gjson.String && content.Str != "" {
		evs, err := t.textDelta(content.Str)
		events = append(events, evs...)
		if err != nil {
			return events, err
		}
	}

	for _, tc := range delta.Get("tool_calls").Array() {
		evs, err := t.toolDelta(tc)
		events = append(events, evs...)
		if err != nil {
			return events, err
		}
	}

	if fr := choice.Get("finish_reason"); fr.Type == gjson.String && fr.Str != "" {
		evs, err := t.closeSequence(mapFinishReason(fr.Str))
		events = append(events, evs...)
		return events, err
	}
	return events, nil
}

// Finish terminates the event sequence when the upstream stream ends
// without a finish reason, so clients never see a hung envelope. Safe
// to call after a finished stream, where it produces nothing.
func (t *StreamTranslator) Finish() []models.ClaudeStreamEvent {
	if t.phase == phaseClosed {
		return nil
	}
	var events []models.ClaudeStreamEvent
	if t.phase == phaseAwaitingFirst {
		events = append(events, t.messageStart())
		t.phase = phaseStreaming
	}
	evs, _ := t.closeOpenBlock()
	events = append(events, evs...)
	return append(events, t.terminal("end_turn")...)
}

func (t *StreamTranslator) textDelta(text string) ([]models.ClaudeStreamEvent, error) {
	var events []models.ClaudeStreamEvent
	if t.openIndex < 0 || t.blocks[t.openIndex].kind != blockText {
		evs, missing := t.closeOpenBlock()
		events = append(events, evs...)
		if missing {
			return append(events, t.terminal("end_turn")...), ErrStreamAborted
		}
		events = append(events, t.openBlock(&blockState{kind: blockText}, models.NewTextStartBlock()))
	}
	t.textAccum.WriteString(text)
	events = append(events, models.ClaudeStreamEvent{
		Type:  "content_block_delta",
		Index: intPtr(t.openIndex),
		Delta: &models.StreamDelta{Type: "text_delta", Text: text},
	})
	return events, nil
}

func (t *StreamTranslator) toolDelta(tc gjson.Result) ([]models.ClaudeStreamEvent, error) {
	upstreamIdx := tc.Get("index").Int()
	id := tc.Get("id").String()
	name := tc.Get("function.name").String()
	args := tc.Get("function.arguments").String()

	var events []models.ClaudeStreamEvent
	bi, known := t.toolIndex[upstreamIdx]
	switch {
	case !known:
		evs, missing := t.closeOpenBlock()
		events = append(events, evs...)
		if missing {
			return append(events, t.terminal("end_turn")...), ErrStreamAborted
		}
		events = append(events, t.openBlock(
			&blockState{kind: blockToolUse, toolID: id, toolName: name},
			models.NewToolUseStartBlock(id, name),
		))
		bi = t.openIndex
		t.toolIndex[upstreamIdx] = bi
	case bi != t.openIndex:
		// Fragment for a block that already closed; indices never
		// reopen, so it is dropped.
		t.log.Warn("dropping fragment for closed tool block", zap.Int64("tool_index", upstreamIdx))
		return nil, nil
	default:
		b := t.blocks[bi]
		if id != "" && b.toolID == "" {
			b.toolID = id
		}
		if name != "" && b.toolName == "" {
			b.toolName = name
		}
	}

	if args == "" {
		return events, nil
	}
	t.blocks[bi].args.WriteString(args)
	events = append(events, models.ClaudeStreamEvent{
		Type:  "content_block_delta",
		Index: intPtr(bi),
		Delta: &models.StreamDelta{Type: "input_json_delta", PartialJSON: args},
	})
	return events, nil
}

func (t *StreamTranslator) messageStart() models.ClaudeStreamEvent {
	return models.ClaudeStreamEvent{
		Type: "message_start",
		Message: &models.ClaudeMessagesResponse{
			ID:      t.messageID,
			Type:    "message",
			Role:    "assistant",
			Model:   t.model,
			Content: []models.ContentBlock{},
			Usage:   models.ClaudeUsage{},
		},
	}
}

func (t *StreamTranslator) openBlock(b *blockState, start *models.StreamContentBlock) models.ClaudeStreamEvent {
	t.blocks = append(t.blocks, b)
	t.openIndex = len(t.blocks) - 1
	return models.ClaudeStreamEvent{
		Type:         "content_block_start",
		Index:        intPtr(t.openIndex),
		ContentBlock: start,
	}
}

// closeOpenBlock emits content_block_stop for the open block, if any.
// The second return reports the fatal case of a tool block that never
// received an id or name.
func (t *StreamTranslator) closeOpenBlock() ([]models.ClaudeStreamEvent, bool) {
	if t.openIndex < 0 {
		return nil, false
	}
	idx := t.openIndex
	b := t.blocks[idx]
	t.openIndex = -1

	identityMissing := false
	if b.kind == blockToolUse {
		if args := b.args.String(); args != "" && !json.Valid([]byte(args)) {
			t.log.Warn("tool arguments are not valid JSON at block close",
				zap.Int("index", idx), zap.String("tool", b.toolName))
		}
		if b.toolID == "" && b.toolName == "" {
			t.log.Error("tool block closed without an id or name", zap.Int("index", idx))
			identityMissing = true
		}
	}
	return []models.ClaudeStreamEvent{{Type: "content_block_stop", Index: intPtr(idx)}}, identityMissing
}

func (t *StreamTranslator) closeSequence(stop string) ([]models.ClaudeStreamEvent, error) {
	events, missing := t.closeOpenBlock()
	if missing {
		return append(events, t.terminal("end_turn")...), ErrStreamAborted
	}
	return append(events, t.terminal(stop)...), nil
}

// terminal emits the message_delta/message_stop pair and seals the
// translator. No events are accepted afterwards.
func (t *StreamTranslator) terminal(stop string) []models.ClaudeStreamEvent {
	t.phase = phaseDraining
	usage := t.finalUsage()
	events := []models.ClaudeStreamEvent{
		{
			Type:  "message_delta",
			Delta: &models.StreamDelta{StopReason: stop},
			Usage: &usage,
		},
		{Type: "message_stop"},
	}
	t.phase = phaseClosed
	return events
}

func (t *StreamTranslator) finalUsage() models.ClaudeUsage {
	if t.usageSeen {
		return models.ClaudeUsage{InputTokens: t.inputTokens, OutputTokens: t.outputTokens}
	}
	if t.counter == nil {
		return models.ClaudeUsage{InputTokens: t.fallbackInput}
	}
	out := t.counter.Count(t.textAccum.String())
	for _, b := range t.blocks {
		if b.kind == blockToolUse {
			out += t.counter.Count(b.args.String())
		}
	}
	return models.ClaudeUsage{InputTokens: t.fallbackInput, OutputTokens: out}
}

func intPtr(i int) *int {
	return &i
}
